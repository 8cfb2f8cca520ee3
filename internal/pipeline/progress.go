package pipeline

// Stage names, also used as log stage fields.
const (
	StageLoad       = "load"
	StagePreflight  = "preflight"
	StageTranscribe = "transcribe"
	StageAlign      = "align"
	StageDiarize    = "diarize"
	StageAssign     = "assign"
	StageCorrect    = "correct"
	StageWrite      = "write"
	StageComplete   = "complete"
)

// Event reports pipeline progress.
type Event struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Progress receives events in order. It may be nil.
type Progress func(Event)

var stageProgress = map[string]Event{
	StageLoad:       {StageLoad, 10, "Initializing"},
	StagePreflight:  {StagePreflight, 15, "Checking devices"},
	StageTranscribe: {StageTranscribe, 30, "Transcribing"},
	StageAlign:      {StageAlign, 50, "Aligning words"},
	StageDiarize:    {StageDiarize, 70, "Identifying speakers"},
	StageAssign:     {StageAssign, 85, "Assigning speakers"},
	StageCorrect:    {StageCorrect, 90, "Applying corrections"},
	StageWrite:      {StageWrite, 95, "Writing outputs"},
	StageComplete:   {StageComplete, 100, "Complete"},
}

func (p Progress) emit(stage string) {
	if p == nil {
		return
	}
	if ev, ok := stageProgress[stage]; ok {
		p(ev)
	}
}

// Emit sends the canonical event for stage. Callers use it for the write
// and complete stages, which run outside Run.
func (p Progress) Emit(stage string) {
	p.emit(stage)
}
