package clickhouse

import (
	"strings"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/w3b-protocol/reserve-backend/internal/model"
)

func newRoot(suffix string, createdAt time.Time) model.MerkleRoot {
	return model.MerkleRoot{
		RootHash:     strings.Repeat(suffix, 64/len(suffix)),
		TotalSerials: 45,
		Status:       model.RootPending,
		CreatedAt:    createdAt,
	}
}

func (s *RepositorySuite) TestInsertAndFetchMerkleRoot() {
	now := time.Now().UTC().Truncate(time.Millisecond)
	root := newRoot("a", now)

	s.metrics.EXPECT().Observe("insert_merkle_root", gomock.Nil(), gomock.Any()).Times(1)
	s.metrics.EXPECT().Observe("merkle_root_by_hash", gomock.Nil(), gomock.Any()).Times(2)

	s.Require().NoError(s.repo.InsertMerkleRoot(s.testCtx, root))

	got, found, err := s.repo.MerkleRootByHash(s.testCtx, root.RootHash)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(root.RootHash, got.RootHash)
	s.Equal(root.TotalSerials, got.TotalSerials)
	s.Equal(model.RootPending, got.Status)

	_, found, err = s.repo.MerkleRootByHash(s.testCtx, strings.Repeat("f", 64))
	s.Require().NoError(err)
	s.False(found)
}

func (s *RepositorySuite) TestInsertMerkleRootIdempotent() {
	now := time.Now().UTC().Truncate(time.Millisecond)
	root := newRoot("b", now)

	s.metrics.EXPECT().Observe("insert_merkle_root", gomock.Nil(), gomock.Any()).Times(2)
	s.metrics.EXPECT().Observe("recent_merkle_roots", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.InsertMerkleRoot(s.testCtx, root))

	time.Sleep(time.Second)

	s.Require().NoError(s.repo.InsertMerkleRoot(s.testCtx, root))

	roots, err := s.repo.RecentMerkleRoots(s.testCtx, 10)
	s.Require().NoError(err)
	s.Len(roots, 1, "replacing merge tree must collapse rows sharing a root hash")
}

func (s *RepositorySuite) TestMarkRootAnchored() {
	now := time.Now().UTC().Truncate(time.Millisecond)
	root := newRoot("c", now)

	s.metrics.EXPECT().Observe("insert_merkle_root", gomock.Nil(), gomock.Any()).Times(2)
	s.metrics.EXPECT().Observe("mark_root_anchored", gomock.Nil(), gomock.Any()).Times(1)
	s.metrics.EXPECT().Observe("merkle_root_by_hash", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.InsertMerkleRoot(s.testCtx, root))

	time.Sleep(time.Second)

	anchored := root
	anchored.TxRef = "tx-1"
	anchored.AnchoredAt = now.Add(time.Minute)
	s.Require().NoError(s.repo.MarkRootAnchored(s.testCtx, anchored))

	got, found, err := s.repo.MerkleRootByHash(s.testCtx, root.RootHash)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(model.RootAnchored, got.Status)
	s.Equal("tx-1", got.TxRef)
}

func (s *RepositorySuite) TestLatestAndRecentMerkleRoots() {
	now := time.Now().UTC().Truncate(time.Millisecond)
	older := newRoot("d", now.Add(-time.Hour))
	newer := newRoot("e", now)

	s.metrics.EXPECT().Observe("insert_merkle_root", gomock.Nil(), gomock.Any()).Times(2)
	s.metrics.EXPECT().Observe("latest_merkle_root", gomock.Nil(), gomock.Any()).Times(1)
	s.metrics.EXPECT().Observe("recent_merkle_roots", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.InsertMerkleRoot(s.testCtx, older))
	s.Require().NoError(s.repo.InsertMerkleRoot(s.testCtx, newer))

	latest, found, err := s.repo.LatestMerkleRoot(s.testCtx)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(newer.RootHash, latest.RootHash)

	roots, err := s.repo.RecentMerkleRoots(s.testCtx, 10)
	s.Require().NoError(err)
	s.Require().Len(roots, 2)
	s.Equal(newer.RootHash, roots[0].RootHash)
	s.Equal(older.RootHash, roots[1].RootHash)
}
