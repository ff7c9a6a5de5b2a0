package court

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"agoraeconomy/internal/clients"
)

// JudgeBundle is everything the external judge panel needs to rule on a
// claim, per §4.5: "the task spec, all assets, the claimant's reason, and
// the respondent's rebuttal."
type JudgeBundle struct {
	TaskID   string          `json:"task_id"`
	TaskSpec string          `json:"task_spec"`
	Assets   []clients.Asset `json:"assets"`
	Reason   string          `json:"reason"`
	Rebuttal string          `json:"rebuttal"`
}

// JudgeVote is one judge's verdict. Abstained is set locally when the panel
// call errors or times out; it is never set by the panel itself.
type JudgeVote struct {
	JudgeIndex         int    `json:"judge_index"`
	SpecQualityPct     int    `json:"spec_quality_pct"`
	DeliveryQualityPct int    `json:"delivery_quality_pct"`
	BriefReason        string `json:"brief_reason"`
	Abstained          bool   `json:"abstained"`
}

// Panel is the external judge panel, treated as a pure function per §1's
// "out of scope (external collaborators)." Production wiring points an
// HTTPPanel at a sibling process; tests substitute a stub.
type Panel interface {
	Vote(ctx context.Context, judgeIndex int, bundle JudgeBundle) (*JudgeVote, error)
}

// HTTPPanel calls one judge endpoint per vote, so a single judge's timeout
// or 5xx never blocks the others — each call runs under its own
// context.WithTimeout in pollPanel below.
type HTTPPanel struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPPanel(baseURL string) *HTTPPanel {
	return &HTTPPanel{BaseURL: baseURL, Client: &http.Client{}}
}

func (p *HTTPPanel) Vote(ctx context.Context, judgeIndex int, bundle JudgeBundle) (*JudgeVote, error) {
	payload := struct {
		JudgeIndex int `json:"judge_index"`
		JudgeBundle
	}{JudgeIndex: judgeIndex, JudgeBundle: bundle}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/judge", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("judge panel returned status %d", resp.StatusCode)
	}
	var vote JudgeVote
	if err := json.NewDecoder(resp.Body).Decode(&vote); err != nil {
		return nil, err
	}
	vote.JudgeIndex = judgeIndex
	return &vote, nil
}

// pollPanel fans out one Vote call per judge, each bounded by its own
// per-judge deadline; a timed-out or errored judge is recorded as an
// abstention rather than failing the whole ruling, per §5's "exceeding it
// causes that judge's vote to be treated as abstention."
func pollPanel(ctx context.Context, panel Panel, panelSize int, judgeTimeout time.Duration, bundle JudgeBundle) []JudgeVote {
	votes := make([]JudgeVote, panelSize)
	results := make(chan JudgeVote, panelSize)

	for i := 0; i < panelSize; i++ {
		go func(idx int) {
			jctx, cancel := context.WithTimeout(ctx, judgeTimeout)
			defer cancel()
			vote, err := panel.Vote(jctx, idx, bundle)
			if err != nil || vote == nil {
				results <- JudgeVote{JudgeIndex: idx, Abstained: true}
				return
			}
			vote.JudgeIndex = idx
			results <- *vote
		}(i)
	}
	for i := 0; i < panelSize; i++ {
		v := <-results
		votes[v.JudgeIndex] = v
	}
	return votes
}

// aggregateWorkerPct implements §4.5's aggregation: each participating
// judge's ratio is delivery_quality_pct / (spec_quality_pct +
// delivery_quality_pct), defaulting to 100 when the denominator is zero.
// The aggregate is the median across odd panel sizes or the rounded mean
// across even ones, counting only non-abstaining judges; if every judge
// abstains the ruling defaults to worker_pct = 100 (ambiguity favors the
// worker).
func aggregateWorkerPct(votes []JudgeVote) int {
	ratios := make([]float64, 0, len(votes))
	for _, v := range votes {
		if v.Abstained {
			continue
		}
		denom := v.SpecQualityPct + v.DeliveryQualityPct
		if denom == 0 {
			ratios = append(ratios, 1.0)
			continue
		}
		ratios = append(ratios, float64(v.DeliveryQualityPct)/float64(denom))
	}
	if len(ratios) == 0 {
		return 100
	}

	sort.Float64s(ratios)
	var ratio float64
	if len(ratios)%2 == 1 {
		ratio = ratios[len(ratios)/2]
	} else {
		mid := len(ratios) / 2
		ratio = (ratios[mid-1] + ratios[mid]) / 2
	}
	result := int(math.Round(ratio * 100))
	if result < 0 {
		return 0
	}
	if result > 100 {
		return 100
	}
	return result
}
