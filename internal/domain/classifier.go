package domain

import "context"

// Prediction is one detection returned by the image classifier.
type Prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Classifier runs object detection over raw image bytes.
type Classifier interface {
	Classify(ctx context.Context, image []byte) ([]Prediction, error)
}
