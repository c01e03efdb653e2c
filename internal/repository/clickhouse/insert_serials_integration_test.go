package clickhouse

import (
	"fmt"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/w3b-protocol/reserve-backend/internal/merkle"
	"github.com/w3b-protocol/reserve-backend/internal/model"
)

func newSerial(i int, ts time.Time) model.SerialRecord {
	serial := fmt.Sprintf("SN-%05d", i)
	return model.SerialRecord{
		SerialID:  serial,
		BatchID:   "batch-1",
		LeafHash:  merkle.LeafHash(serial).Hex(),
		CreatedAt: ts,
	}
}

func (s *RepositorySuite) TestInsertSerials() {
	now := time.Now().UTC().Truncate(time.Millisecond)
	serials := []model.SerialRecord{newSerial(0, now), newSerial(1, now), newSerial(2, now)}

	s.metrics.EXPECT().Observe("insert_serials", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.InsertSerials(s.testCtx, serials))
	s.Equal(uint64(len(serials)), s.countRows("reserve_serials"))
}

func (s *RepositorySuite) TestInsertSerialsEmptyIsNoOp() {
	s.metrics.EXPECT().Observe("insert_serials", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.InsertSerials(s.testCtx, nil))
	s.Equal(uint64(0), s.countRows("reserve_serials"))
}

func (s *RepositorySuite) TestCountSerialsDeduplicates() {
	now := time.Now().UTC().Truncate(time.Millisecond)

	s.metrics.EXPECT().Observe("insert_serials", gomock.Nil(), gomock.Any()).Times(2)
	s.metrics.EXPECT().Observe("count_serials", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.InsertSerials(s.testCtx, []model.SerialRecord{newSerial(0, now)}))
	s.Require().NoError(s.repo.InsertSerials(s.testCtx, []model.SerialRecord{newSerial(0, now.Add(time.Second))}))

	count, err := s.repo.CountSerials(s.testCtx)
	s.Require().NoError(err)
	s.Equal(uint64(1), count)
}

func (s *RepositorySuite) TestExistingSerials() {
	now := time.Now().UTC().Truncate(time.Millisecond)
	stored := newSerial(0, now)

	s.metrics.EXPECT().Observe("insert_serials", gomock.Nil(), gomock.Any()).Times(1)
	s.metrics.EXPECT().Observe("existing_serials", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.InsertSerials(s.testCtx, []model.SerialRecord{stored}))

	existing, err := s.repo.ExistingSerials(s.testCtx, []string{stored.SerialID, "SN-missing"})
	s.Require().NoError(err)
	s.Len(existing, 1)
	s.Equal(stored.LeafHash, existing[stored.SerialID])
}

func (s *RepositorySuite) TestSerialsByLeafHash() {
	now := time.Now().UTC().Truncate(time.Millisecond)
	stored := newSerial(0, now)

	s.metrics.EXPECT().Observe("insert_serials", gomock.Nil(), gomock.Any()).Times(1)
	s.metrics.EXPECT().Observe("serials_by_leaf_hash", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.InsertSerials(s.testCtx, []model.SerialRecord{stored}))

	owners, err := s.repo.SerialsByLeafHash(s.testCtx, []string{stored.LeafHash})
	s.Require().NoError(err)
	s.Equal(stored.SerialID, owners[stored.LeafHash])
}

func (s *RepositorySuite) TestSerialLeavesOrderedByLeafHash() {
	now := time.Now().UTC().Truncate(time.Millisecond)
	serials := []model.SerialRecord{newSerial(2, now), newSerial(0, now), newSerial(1, now)}

	s.metrics.EXPECT().Observe("insert_serials", gomock.Nil(), gomock.Any()).Times(1)
	s.metrics.EXPECT().Observe("serial_leaves", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.InsertSerials(s.testCtx, serials))

	records, err := s.repo.SerialLeaves(s.testCtx)
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	for i := 1; i < len(records); i++ {
		s.Less(records[i-1].LeafHash, records[i].LeafHash)
	}
}

func (s *RepositorySuite) TestMarkIncludedInRoot() {
	now := time.Now().UTC().Truncate(time.Millisecond)
	stored := newSerial(0, now)

	s.metrics.EXPECT().Observe("insert_serials", gomock.Nil(), gomock.Any()).Times(1)
	s.metrics.EXPECT().Observe("mark_included_in_root", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.InsertSerials(s.testCtx, []model.SerialRecord{stored}))
	s.Require().NoError(s.repo.MarkIncludedInRoot(s.testCtx, []string{stored.SerialID}))
}
