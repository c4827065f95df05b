package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph/attractor/internal/handler"
)

// WebInterviewer satisfies handler.Interviewer by parking each question
// until an HTTP client answers it. Ask blocks the engine goroutine until
// an answer is posted, the timeout elapses, or Cancel is called —
// multiple questions may be pending at once when parallel branches each
// hit a wait.human stage concurrently.
type WebInterviewer struct {
	mu       sync.Mutex
	pending  map[string]*pendingQuestion
	timeout  time.Duration
	cancelCh chan struct{}
}

type pendingQuestion struct {
	question handler.Question
	askedAt  time.Time
	answerCh chan handler.Answer
}

// NewWebInterviewer creates an interviewer with the given per-question
// timeout. timeout <= 0 defaults to 30 minutes.
func NewWebInterviewer(timeout time.Duration) *WebInterviewer {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &WebInterviewer{
		timeout:  timeout,
		cancelCh: make(chan struct{}),
		pending:  make(map[string]*pendingQuestion),
	}
}

// Ask implements handler.Interviewer.
func (wi *WebInterviewer) Ask(q handler.Question) handler.Answer {
	qid := q.ID
	if qid == "" {
		qid = uuid.NewString()
	}
	ch := make(chan handler.Answer, 1)

	wi.mu.Lock()
	wi.pending[qid] = &pendingQuestion{question: q, askedAt: time.Now().UTC(), answerCh: ch}
	wi.mu.Unlock()

	defer func() {
		wi.mu.Lock()
		delete(wi.pending, qid)
		wi.mu.Unlock()
	}()

	timer := time.NewTimer(wi.timeout)
	defer timer.Stop()

	select {
	case ans := <-ch:
		return ans
	case <-timer.C:
		return handler.Answer{Status: handler.AnswerTimeout}
	case <-wi.cancelCh:
		return handler.Answer{Status: handler.AnswerTimeout}
	}
}

// Pending lists every currently unanswered question.
func (wi *WebInterviewer) Pending() []PendingQuestionView {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	out := make([]PendingQuestionView, 0, len(wi.pending))
	for qid, pq := range wi.pending {
		choices := make([]ChoiceView, len(pq.question.Choices))
		for i, c := range pq.question.Choices {
			choices[i] = ChoiceView{Key: c.Key, Label: c.Label, To: c.To}
		}
		out = append(out, PendingQuestionView{
			QuestionID: qid,
			NodeID:     pq.question.NodeID,
			Text:       pq.question.Text,
			Choices:    choices,
			AskedAt:    pq.askedAt,
		})
	}
	return out
}

// Answer delivers selected to the pending question qid. Returns
// false if qid is unknown or already answered.
func (wi *WebInterviewer) Answer(qid string, selected string) bool {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	pq, ok := wi.pending[qid]
	if !ok {
		return false
	}
	select {
	case pq.answerCh <- handler.Answer{Status: handler.AnswerAnswered, Selected: selected}:
		delete(wi.pending, qid)
		return true
	default:
		return false
	}
}

// Cancel unblocks every in-flight Ask call with a timeout answer.
func (wi *WebInterviewer) Cancel() {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	select {
	case <-wi.cancelCh:
	default:
		close(wi.cancelCh)
	}
}
