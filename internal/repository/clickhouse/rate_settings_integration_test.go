package clickhouse

import (
	"time"

	"github.com/golang/mock/gomock"

	"github.com/w3b-protocol/reserve-backend/internal/model"
)

func (s *RepositorySuite) TestRateSettingMissing() {
	s.metrics.EXPECT().Observe("rate_setting", gomock.Nil(), gomock.Any()).Times(1)

	_, found, err := s.repo.RateSetting(s.testCtx, "main")
	s.Require().NoError(err)
	s.False(found)
}

func (s *RepositorySuite) TestUpsertRateSetting() {
	now := time.Now().UTC().Truncate(time.Millisecond)

	s.metrics.EXPECT().Observe("upsert_rate_setting", gomock.Nil(), gomock.Any()).Times(2)
	s.metrics.EXPECT().Observe("rate_setting", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.UpsertRateSetting(s.testCtx, model.RateSetting{
		ID: "main", Rate: 0.5, UpdatedAt: now.Add(-time.Minute),
	}))
	s.Require().NoError(s.repo.UpsertRateSetting(s.testCtx, model.RateSetting{
		ID: "main", Rate: 0.6, UpdatedAt: now,
	}))

	setting, found, err := s.repo.RateSetting(s.testCtx, "main")
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(0.6, setting.Rate)
	s.Equal(now, setting.UpdatedAt.UTC())
}
