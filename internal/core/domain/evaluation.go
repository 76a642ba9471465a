package domain

type EvalCase struct {
	Question    string `json:"question" yaml:"question"`
	GroundTruth string `json:"ground_truth" yaml:"ground_truth"`
}

type EvalResult struct {
	Question        string     `json:"question"`
	Answer          string     `json:"answer"`
	Confidence      Confidence `json:"confidence"`
	Faithfulness    float64    `json:"faithfulness"`
	AnswerRelevancy float64    `json:"answer_relevancy"`
	ContextRecall   float64    `json:"context_recall"`
	Citations       int        `json:"citations"`
	Error           string     `json:"error,omitempty"`
}

type EvalReport struct {
	Cases               int                `json:"cases"`
	Failed              int                `json:"failed"`
	MeanFaithfulness    float64            `json:"mean_faithfulness"`
	MeanAnswerRelevancy float64            `json:"mean_answer_relevancy"`
	MeanContextRecall   float64            `json:"mean_context_recall"`
	Confidence          map[Confidence]int `json:"confidence"`
	Results             []EvalResult       `json:"results"`
}
