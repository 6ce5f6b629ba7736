// Package ledger defines the durable job/recall trail for tonearm.
//
// A RecallRequest is one end-to-end ask ("what song is this?"), a RecallJob is
// one scheduled unit of backend work for it, and Candidates are the ranked song
// guesses the identification cascade produced. Requests are retained for audit
// and are never deleted by the core; status only advances forward, except via
// an explicit retry.
//
// The Store interface is implemented by [MemStore] for tests and by the
// pgx-backed store in the postgres subpackage for production.
package ledger

import "time"

// InputType describes the modality of the submitted recall.
type InputType string

const (
	InputText       InputType = "text"
	InputVoice      InputType = "voice"
	InputImage      InputType = "image"
	InputBackground InputType = "background"
	InputHum        InputType = "hum"
)

// IsValid reports whether t is a recognised input type.
func (t InputType) IsValid() bool {
	switch t {
	case InputText, InputVoice, InputImage, InputBackground, InputHum:
		return true
	}
	return false
}

// IsAudio reports whether t carries raw audio that must be identified by
// fingerprint rather than answered from text.
func (t InputType) IsAudio() bool {
	return t == InputVoice || t == InputBackground || t == InputHum
}

// RequestStatus is the lifecycle state of a RecallRequest.
// Transitions are monotonic: new → queued → processing → done|failed.
// The only backward edge is an explicit retry (failed → queued).
type RequestStatus string

const (
	RequestNew        RequestStatus = "new"
	RequestQueued     RequestStatus = "queued"
	RequestProcessing RequestStatus = "processing"
	RequestDone       RequestStatus = "done"
	RequestFailed     RequestStatus = "failed"
)

// rank returns the ordering position of s; higher ranks may not transition to
// lower ranks except via retry.
func (s RequestStatus) rank() int {
	switch s {
	case RequestNew:
		return 0
	case RequestQueued:
		return 1
	case RequestProcessing:
		return 2
	case RequestDone, RequestFailed:
		return 3
	}
	return -1
}

// CanAdvanceTo reports whether a transition from s to next respects the
// monotonic status order.
func (s RequestStatus) CanAdvanceTo(next RequestStatus) bool {
	return next.rank() > s.rank()
}

// InFlight reports whether the request already has active backend work, i.e.
// a replayed submission must not enqueue a second job.
func (s RequestStatus) InFlight() bool {
	return s == RequestQueued || s == RequestProcessing
}

// JobType classifies the backend work scheduled for a recall.
type JobType string

const (
	JobIdentify  JobType = "identify"
	JobKnowledge JobType = "knowledge"
	JobRecommend JobType = "recommend"
)

// IsValid reports whether t is a recognised job type.
func (t JobType) IsValid() bool {
	return t == JobIdentify || t == JobKnowledge || t == JobRecommend
}

// JobStatus is the lifecycle state of a RecallJob.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// RecallRequest identifies one end-to-end ask. RequestID is the caller-supplied
// idempotency key: replays with the same RequestID while the original is still
// in flight converge to the original row and its single job.
type RecallRequest struct {
	// ID is the server-assigned primary key (UUID).
	ID string

	// RequestID is the idempotency key, unique per logical submission.
	RequestID string

	// UserID is the authenticated owner of the request.
	UserID string

	// ClientAddr is the network address the submission arrived from.
	// Recorded for rate limiting and audit.
	ClientAddr string

	InputType InputType
	QueryText string
	AudioPath string
	ImagePath string
	ThreadID  string

	Status RequestStatus

	// ResultTitle/ResultArtist/ResultConfidence/ResultURL mirror the top
	// candidate once the cascade completes. ResultNote carries the explicit
	// "no candidates" outcome, which is a valid terminal state, not a failure.
	ResultTitle      string
	ResultArtist     string
	ResultConfidence float64
	ResultURL        string
	ResultNote       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecallJob is one scheduled unit of backend work for a RecallRequest.
// A request has at most one active (queued or processing) job at a time.
type RecallJob struct {
	ID        string
	RequestID string // RecallRequest.ID, not the idempotency key
	Type      JobType
	Status    JobStatus

	ScheduledAt  time.Time
	CompletedAt  time.Time
	ErrorMessage string
}

// Candidate is one ranked song guess for a request. Candidates are immutable
// once written; ranks are unique and contiguous starting at 1.
type Candidate struct {
	RequestID  string
	Rank       int
	Title      string
	Artist     string
	Album      string
	Confidence float64
	URL        string

	// Evidence is the human-readable reason this candidate was proposed
	// (e.g. "acoustic fingerprint match, 0.91" or a lyric excerpt).
	Evidence string

	ReleaseDate string
}

// Source is a citation row backing a candidate.
type Source struct {
	RequestID string
	Title     string
	URL       string
	Publisher string
	Verified  bool
}

// AuditEntry is one append-only audit log row. Every status transition and
// every cascade outcome writes one, including crash paths.
type AuditEntry struct {
	RequestID string
	Stage     string
	Message   string
	CreatedAt time.Time
}
