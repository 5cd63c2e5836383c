package training

import (
	"fmt"

	"github.com/tsawler/go-latent/tensor"
)

// Accuracy counts correct argmax predictions.
type Accuracy struct {
	Correct int
	Total   int
}

// Add merges the counts of other into a.
func (a *Accuracy) Add(other Accuracy) {
	a.Correct += other.Correct
	a.Total += other.Total
}

// Rate returns Correct/Total, or 0 when nothing was counted.
func (a Accuracy) Rate() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Correct) / float64(a.Total)
}

// ComputeAccuracy compares the row-wise argmax of logits [n, classes] with
// the targets.
func ComputeAccuracy(logits *tensor.Tensor, targets []int) Accuracy {
	preds := tensor.ArgMaxRows(logits)
	acc := Accuracy{Total: len(preds)}
	for i, p := range preds {
		if i < len(targets) && p == targets[i] {
			acc.Correct++
		}
	}
	return acc
}

// ConfusionMatrix accumulates [true][predicted] counts of a classifier.
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int
	TotalSamples int
}

// NewConfusionMatrix creates an empty numClasses x numClasses matrix.
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{NumClasses: numClasses, Matrix: matrix}
}

// Reset clears all counts.
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update adds one batch of logits [n, NumClasses] and their true labels.
// Labels outside the class range are skipped.
func (cm *ConfusionMatrix) Update(logits *tensor.Tensor, labels []int) error {
	if logits.Dim() != 2 || logits.Cols() != cm.NumClasses {
		return fmt.Errorf("confusion matrix expects logits [n, %d], got %v", cm.NumClasses, logits.Shape)
	}
	if len(labels) != logits.Rows() {
		return fmt.Errorf("labels length mismatch: expected %d, got %d", logits.Rows(), len(labels))
	}
	for i, pred := range tensor.ArgMaxRows(logits) {
		truth := labels[i]
		if truth < 0 || truth >= cm.NumClasses {
			continue
		}
		cm.Matrix[truth][pred]++
		cm.TotalSamples++
	}
	return nil
}

// Accuracy returns the share of samples on the diagonal.
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// MacroPrecision averages precision over the classes that were predicted at
// least once.
func (cm *ConfusionMatrix) MacroPrecision() float64 {
	sum, valid := 0.0, 0
	for class := 0; class < cm.NumClasses; class++ {
		tp := float64(cm.Matrix[class][class])
		fp := 0.0
		for other := 0; other < cm.NumClasses; other++ {
			if other != class {
				fp += float64(cm.Matrix[other][class])
			}
		}
		if tp+fp > 0 {
			sum += tp / (tp + fp)
			valid++
		}
	}
	if valid == 0 {
		return 0
	}
	return sum / float64(valid)
}

// MacroRecall averages recall over the classes that occur at least once.
func (cm *ConfusionMatrix) MacroRecall() float64 {
	sum, valid := 0.0, 0
	for class := 0; class < cm.NumClasses; class++ {
		tp := float64(cm.Matrix[class][class])
		fn := 0.0
		for other := 0; other < cm.NumClasses; other++ {
			if other != class {
				fn += float64(cm.Matrix[class][other])
			}
		}
		if tp+fn > 0 {
			sum += tp / (tp + fn)
			valid++
		}
	}
	if valid == 0 {
		return 0
	}
	return sum / float64(valid)
}

// MacroF1 is the harmonic mean of MacroPrecision and MacroRecall.
func (cm *ConfusionMatrix) MacroF1() float64 {
	p, r := cm.MacroPrecision(), cm.MacroRecall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}
