package court

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubPanel is a deterministic Panel for tests: each judge index either
// returns a fixed vote, a fixed error, or blocks past its own context
// deadline to exercise the abstention path.
type stubPanel struct {
	votes map[int]JudgeVote
	errs  map[int]error
	delay map[int]time.Duration
}

func (p *stubPanel) Vote(ctx context.Context, judgeIndex int, bundle JudgeBundle) (*JudgeVote, error) {
	if d, ok := p.delay[judgeIndex]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := p.errs[judgeIndex]; ok {
		return nil, err
	}
	v := p.votes[judgeIndex]
	return &v, nil
}

func TestAggregateWorkerPctOddPanelMedian(t *testing.T) {
	votes := []JudgeVote{
		{SpecQualityPct: 60, DeliveryQualityPct: 40},
		{SpecQualityPct: 60, DeliveryQualityPct: 40},
		{SpecQualityPct: 60, DeliveryQualityPct: 40},
	}
	require.Equal(t, 40, aggregateWorkerPct(votes))
}

func TestAggregateWorkerPctVagueSpecFavorsWorker(t *testing.T) {
	votes := []JudgeVote{
		{SpecQualityPct: 5, DeliveryQualityPct: 95},
		{SpecQualityPct: 5, DeliveryQualityPct: 95},
		{SpecQualityPct: 5, DeliveryQualityPct: 95},
	}
	require.Equal(t, 95, aggregateWorkerPct(votes))
}

func TestAggregateWorkerPctEvenPanelMean(t *testing.T) {
	votes := []JudgeVote{
		{SpecQualityPct: 70, DeliveryQualityPct: 30},
		{SpecQualityPct: 40, DeliveryQualityPct: 60},
	}
	require.Equal(t, 45, aggregateWorkerPct(votes))
}

func TestAggregateWorkerPctZeroDenominatorFavorsWorker(t *testing.T) {
	votes := []JudgeVote{{SpecQualityPct: 0, DeliveryQualityPct: 0}}
	require.Equal(t, 100, aggregateWorkerPct(votes))
}

func TestAggregateWorkerPctAllAbstainDefaultsTo100(t *testing.T) {
	votes := []JudgeVote{{Abstained: true}, {Abstained: true}, {Abstained: true}}
	require.Equal(t, 100, aggregateWorkerPct(votes))
}

func TestPollPanelAbstainsOnTimeout(t *testing.T) {
	panel := &stubPanel{delay: map[int]time.Duration{0: 200 * time.Millisecond, 1: 200 * time.Millisecond, 2: 200 * time.Millisecond}}
	votes := pollPanel(context.Background(), panel, 3, 20*time.Millisecond, JudgeBundle{})
	for _, v := range votes {
		require.True(t, v.Abstained)
	}
	require.Equal(t, 100, aggregateWorkerPct(votes))
}

func TestPollPanelMixedAbstentionRecomputesOverRemaining(t *testing.T) {
	panel := &stubPanel{
		votes: map[int]JudgeVote{
			0: {SpecQualityPct: 60, DeliveryQualityPct: 40},
			1: {SpecQualityPct: 60, DeliveryQualityPct: 40},
		},
		delay: map[int]time.Duration{2: 200 * time.Millisecond},
	}
	votes := pollPanel(context.Background(), panel, 3, 20*time.Millisecond, JudgeBundle{})
	require.True(t, votes[2].Abstained)
	require.Equal(t, 40, aggregateWorkerPct(votes))
}
