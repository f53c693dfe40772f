package scoring

// BiasType classifies which heuristics fired.
type BiasType string

const (
	BiasNone          BiasType = "none"
	BiasEmotional     BiasType = "emotional"
	BiasContradiction BiasType = "contradiction"
	BiasBoth          BiasType = "both"
)

// BiasReport is derived from a decision's answers, gut choice and weights. It is
// never persisted.
type BiasReport struct {
	BiasDetected   bool     `json:"biasDetected"`
	BiasType       BiasType `json:"biasType"`
	EmotionalScore int      `json:"emotionalScore"`
	Message        string   `json:"biasMessage"`
}

var biasMessages = map[BiasType]string{
	BiasNone:          "",
	BiasEmotional:     "Your answers contain emotional language. Make sure you're considering the practical aspects alongside your feelings.",
	BiasContradiction: "Your initial choice differs significantly from the analytical recommendation. Your gut might be telling you something important, or it might be influenced by bias.",
	BiasBoth:          "Your answers show strong emotional language, and your gut feeling contradicts the logical analysis. Consider whether emotions are influencing your decision.",
}

// CombineBias merges the emotional score and contradiction flag into a report.
func CombineBias(emotionalScore int, contradiction bool) BiasReport {
	emotional := emotionalScore >= EmotionalThreshold

	biasType := BiasNone
	if emotional && contradiction {
		biasType = BiasBoth
	} else if emotional {
		biasType = BiasEmotional
	} else if contradiction {
		biasType = BiasContradiction
	}

	return BiasReport{
		BiasDetected:   biasType != BiasNone,
		BiasType:       biasType,
		EmotionalScore: emotionalScore,
		Message:        MessageFor(biasType),
	}
}

// MessageFor returns the advisory sentence shown for a bias type.
func MessageFor(t BiasType) string {
	return biasMessages[t]
}
