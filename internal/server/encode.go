package server

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/copyleftdev/curvefit/internal/optimization"
)

// number is a float64 that survives JSON encoding when it is not finite.
// Diverged fits produce NaN and Inf, which encoding/json rejects; those are
// written as the strings "NaN", "+Inf" and "-Inf".
type number float64

func (n number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func numbers(fs []float64) []number {
	if fs == nil {
		return nil
	}
	out := make([]number, len(fs))
	for i, f := range fs {
		out[i] = number(f)
	}
	return out
}

type residualJSON struct {
	Index     int    `json:"index"`
	X         number `json:"x"`
	Y         number `json:"y"`
	Predicted number `json:"predicted"`
	Residual  number `json:"residual"`
}

type reportJSON struct {
	Model          string         `json:"model"`
	Parameters     []number       `json:"parameters"`
	Cost           number         `json:"cost"`
	RMSE           number         `json:"rmse"`
	RSquared       number         `json:"r_squared"`
	IterationsUsed int            `json:"iterations_used"`
	MaxIterations  int            `json:"max_iterations,omitempty"`
	Converged      bool           `json:"converged"`
	Degenerate     bool           `json:"degenerate,omitempty"`
	Residuals      []residualJSON `json:"residuals"`
}

func encodeReport(r *optimization.Report) *reportJSON {
	if r == nil {
		return nil
	}
	residuals := make([]residualJSON, len(r.Residuals))
	for i, res := range r.Residuals {
		residuals[i] = residualJSON{
			Index:     res.Index,
			X:         number(res.X),
			Y:         number(res.Y),
			Predicted: number(res.Predicted),
			Residual:  number(res.Residual),
		}
	}
	return &reportJSON{
		Model:          r.Model,
		Parameters:     numbers(r.Parameters),
		Cost:           number(r.Cost),
		RMSE:           number(r.RMSE),
		RSquared:       number(r.RSquared),
		IterationsUsed: r.IterationsUsed,
		MaxIterations:  r.MaxIterations,
		Converged:      r.Converged,
		Degenerate:     r.Degenerate,
		Residuals:      residuals,
	}
}

type pointJSON struct {
	X number `json:"x"`
	Y number `json:"y"`
}

func encodePoints(samples []optimization.Sample) []pointJSON {
	out := make([]pointJSON, len(samples))
	for i, s := range samples {
		out[i] = pointJSON{X: number(s.X), Y: number(s.Y)}
	}
	return out
}

func encodeHistory(history []optimization.Evaluation) []map[string]interface{} {
	out := make([]map[string]interface{}, len(history))
	for i, eval := range history {
		out[i] = map[string]interface{}{
			"iteration":  eval.Iteration,
			"parameters": numbers(eval.Solution.Parameters),
			"cost":       number(eval.Solution.Cost),
		}
	}
	return out
}

// decodeParams accepts JSON-RPC params given either as an object or as a
// single element array holding the object.
func decodeParams(raw json.RawMessage, dst interface{}) error {
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			var list []json.RawMessage
			if err := json.Unmarshal(raw, &list); err != nil {
				return err
			}
			if len(list) == 0 {
				return errMissingParams
			}
			return json.Unmarshal(list[0], dst)
		}
		return json.Unmarshal(raw, dst)
	}
	return errMissingParams
}
