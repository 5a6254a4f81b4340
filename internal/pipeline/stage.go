// Package pipeline drives one generative fill run from selection check to
// import of the result.
package pipeline

// Stage is a pipeline state.
type Stage string

const (
	StageIdle            Stage = "idle"
	StageValidating      Stage = "validating"
	StageRendering       Stage = "rendering"
	StageUploadingSource Stage = "uploading_source"
	StageUploadingMatte  Stage = "uploading_matte"
	StageSubmitting      Stage = "submitting"
	StagePolling         Stage = "polling"
	StageDownloading     Stage = "downloading"
	StageImporting       Stage = "importing"
	StageDone            Stage = "done"
	StageFailed          Stage = "failed"
)

var stageProgress = map[Stage]int{
	StageValidating:      10,
	StageRendering:       30,
	StageUploadingSource: 40,
	StageUploadingMatte:  50,
	StageSubmitting:      60,
	StagePolling:         70,
	StageDownloading:     85,
	StageImporting:       95,
	StageDone:            100,
}

var stageLabels = map[Stage]string{
	StageIdle:            "Ready",
	StageValidating:      "Checking selection...",
	StageRendering:       "Rendering videos...",
	StageUploadingSource: "Uploading source video...",
	StageUploadingMatte:  "Uploading mask video...",
	StageSubmitting:      "Sending to AI...",
	StagePolling:         "AI is processing...",
	StageDownloading:     "Downloading result...",
	StageImporting:       "Importing result...",
	StageDone:            "Done!",
	StageFailed:          "Failed",
}

// Progress is the percentage shown while in s. Idle and Failed report 0.
func (s Stage) Progress() int {
	return stageProgress[s]
}

// Label is the status line shown while in s.
func (s Stage) Label() string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return string(s)
}

// ActionEnabled reports whether a new run may be started from s.
func (s Stage) ActionEnabled() bool {
	return s == StageIdle || s == StageDone || s == StageFailed
}

// Terminal reports whether s ends a run.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

func (s Stage) String() string { return string(s) }
