package clickhouse

import (
	"time"

	"github.com/golang/mock/gomock"

	"github.com/w3b-protocol/reserve-backend/internal/model"
)

func (s *RepositorySuite) TestEarliestPriceSince() {
	now := time.Now().UTC().Truncate(time.Millisecond)

	s.metrics.EXPECT().Observe("insert_price_point", gomock.Nil(), gomock.Any()).Times(3)
	s.metrics.EXPECT().Observe("earliest_price_since", gomock.Nil(), gomock.Any()).Times(2)

	for i, price := range []float64{0.4, 0.5, 0.6} {
		s.Require().NoError(s.repo.InsertPricePoint(s.testCtx, model.PriceHistoryPoint{
			Price:     price,
			Timestamp: now.Add(time.Duration(i-2) * time.Hour),
		}))
	}

	point, found, err := s.repo.EarliestPriceSince(s.testCtx, now.Add(-90*time.Minute))
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(0.5, point.Price)

	_, found, err = s.repo.EarliestPriceSince(s.testCtx, now.Add(time.Hour))
	s.Require().NoError(err)
	s.False(found)
}

func (s *RepositorySuite) TestPrunePriceHistory() {
	now := time.Now().UTC().Truncate(time.Millisecond)

	s.metrics.EXPECT().Observe("insert_price_point", gomock.Nil(), gomock.Any()).Times(2)
	s.metrics.EXPECT().Observe("prune_price_history", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.InsertPricePoint(s.testCtx, model.PriceHistoryPoint{
		Price: 0.4, Timestamp: now.Add(-49 * time.Hour),
	}))
	s.Require().NoError(s.repo.InsertPricePoint(s.testCtx, model.PriceHistoryPoint{
		Price: 0.5, Timestamp: now,
	}))

	s.Require().NoError(s.repo.PrunePriceHistory(s.testCtx, now.Add(-48*time.Hour)))
}
