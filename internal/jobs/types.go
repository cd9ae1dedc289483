package jobs

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusProcessing          Status = "processing"
	StatusTranscriptReady     Status = "transcript_ready"
	StatusProcessingSection   Status = "processing_section"
	StatusProcessingKeyframes Status = "processing_keyframes"
	StatusCombiningResults    Status = "combining_results"
	StatusComplete            Status = "complete"
	StatusError               Status = "error"
	StatusTimeout             Status = "timeout"
	StatusCancelled           Status = "cancelled"
)

// IsTerminal は状態が終端（これ以上進行しない）かどうかを返します。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusError, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Mode は解析モードを表します。
type Mode string

const (
	// ModeQuick は単発のQ&A生成（画像または短い動画）です。
	ModeQuick Mode = "quick"
	// ModeFull はトランスクリプト分割＋キーフレーム解析の全解析です。
	ModeFull Mode = "full"
)

// Cue はトランスクリプトの1キャプションを表します。
type Cue struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Detection は物体検出の1結果を表します。
type Detection struct {
	Label       string     `json:"label"`
	BoundingBox [4]float64 `json:"bounding_box"`
	Confidence  float64    `json:"confidence"`
}

// Area はバウンディングボックスの面積を返します。
func (d Detection) Area() float64 {
	w := d.BoundingBox[2] - d.BoundingBox[0]
	h := d.BoundingBox[3] - d.BoundingBox[1]
	if w < 0 || h < 0 {
		return 0
	}
	return w * h
}

// QuestionKind は生成される設問の種別を表します。
type QuestionKind string

const (
	// KindMultipleChoice は4択問題です。
	KindMultipleChoice QuestionKind = "multiple_choice"
	// KindClickObject は画面上の対象をクリックさせる問題です。
	KindClickObject QuestionKind = "click_object"
)

// Question は生成された設問を表します。
// Timestamp は full モードでのみ、Objects は click_object でのみ設定されます。
type Question struct {
	Kind      QuestionKind `json:"kind"`
	Text      string       `json:"text"`
	Options   []string     `json:"options,omitempty"`
	Answer    string       `json:"answer,omitempty"`
	Feedback  string       `json:"feedback,omitempty"`
	Timestamp float64      `json:"timestamp"`
	Objects   []Detection  `json:"objects,omitempty"`
}

// Record はジョブの現在状態を表します。状態ストアに1ジョブ1レコードで
// JSONとして保存され、ステップ関数だけがこれを書き換えます。
type Record struct {
	JobID    string `json:"job_id"`
	Status   Status `json:"status"`
	Mode     Mode   `json:"mode"`
	Progress string `json:"progress"`

	VideoRef string `json:"video_ref,omitempty"`
	Title    string `json:"title,omitempty"`
	Language string `json:"language,omitempty"`

	NumQuestions     int     `json:"num_questions,omitempty"`
	KeyframeInterval float64 `json:"keyframe_interval,omitempty"`
	WebhookURL       string  `json:"webhook_url,omitempty"`

	// ImageBase64 はquickモードの画像入力です。ステップがプロセスを跨いで
	// 再開できるよう、入力もレコードに残します。
	ImageBase64 string `json:"image_base64,omitempty"`

	Transcript []Cue `json:"transcript,omitempty"`

	SectionQuestions  []Question `json:"section_questions,omitempty"`
	KeyframeQuestions []Question `json:"keyframe_questions,omitempty"`

	// 再開用カーソル。どこまで列挙が進んだかを正確に記録します。
	CurrentSection       int       `json:"current_section"`
	TotalSections        int       `json:"total_sections"`
	CurrentKeyframeBatch int       `json:"current_keyframe_batch"`
	TotalKeyframeBatches int       `json:"total_keyframe_batches"`
	AllTimestamps        []float64 `json:"all_timestamps,omitempty"`

	// 最終結果。section_questions と keyframe_questions を timestamp 昇順に
	// 統合し num_questions 件に切り詰めたものです。
	Questions []Question `json:"questions,omitempty"`

	Error       string `json:"error,omitempty"`
	StartTime   int64  `json:"start_time"`
	LastUpdated int64  `json:"last_updated"`
	CancelledAt int64  `json:"cancelled_at,omitempty"`
	CompletedAt int64  `json:"completed_at,omitempty"`
}
