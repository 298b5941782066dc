package training

import (
	"sort"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/sampling"
)

// AUC computes the area under the ROC curve between binary labels
// (1 = normal, 0 = anomalous) and predicted class probabilities, using the
// rank-statistic formulation with midranks for ties. Degenerate label sets
// (all one class) return 0.5.
func AUC(labels []int, probs []float64) float64 {
	n := len(labels)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return probs[order[a]] < probs[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && probs[order[j]] == probs[order[i]] {
			j++
		}
		// Tied probabilities share the midrank of their span.
		mid := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[order[k]] = mid
		}
		i = j
	}

	var nPos, nNeg int
	var sumRanksPos float64
	for i, l := range labels {
		if l == sampling.LabelNormal {
			nPos++
			sumRanksPos += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}
	return (sumRanksPos - float64(nPos)*float64(nPos+1)/2) / (float64(nPos) * float64(nNeg))
}
