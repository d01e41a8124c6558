package metaculus

import "encoding/json"

// extractProbability digs the community prediction out of a question
// payload. The field layout has changed across API revisions, so several
// shapes are probed in order: a plain number, a nested aggregate object, a
// prediction timeseries, and finally the newer "forecasts" block. Values
// outside [0,1] are rejected. Returns nil when no usable prediction exists.
func extractProbability(payload []byte) *float64 {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil
	}

	for _, field := range []string{"community_prediction", "q2", "prediction_timeseries"} {
		val, ok := data[field]
		if !ok || val == nil {
			continue
		}
		switch v := val.(type) {
		case float64:
			if p := validProb(v); p != nil {
				return p
			}
		case map[string]any:
			for _, sub := range []string{"full", "latest", "current"} {
				if p := probFromAggregate(v[sub]); p != nil {
					return p
				}
			}
		case []any:
			if p := probFromTimeseries(v); p != nil {
				return p
			}
		}
	}

	if forecasts, ok := data["forecasts"].(map[string]any); ok {
		for _, key := range []string{"community", "metaculus"} {
			forecast, ok := forecasts[key].(map[string]any)
			if !ok {
				continue
			}
			for _, field := range []string{"q2", "median", "mean"} {
				if v, ok := forecast[field].(float64); ok {
					if p := validProb(v); p != nil {
						return p
					}
				}
			}
		}
	}

	return nil
}

// probFromAggregate reads a nested aggregate like {"q2": 0.62} or a bare
// number.
func probFromAggregate(val any) *float64 {
	switch v := val.(type) {
	case float64:
		return validProb(v)
	case map[string]any:
		for _, field := range []string{"q2", "median", "mean", "value"} {
			if p, ok := v[field].(float64); ok {
				if valid := validProb(p); valid != nil {
					return valid
				}
			}
		}
	}
	return nil
}

// probFromTimeseries reads the most recent entry of a prediction series.
func probFromTimeseries(series []any) *float64 {
	if len(series) == 0 {
		return nil
	}
	latest, ok := series[len(series)-1].(map[string]any)
	if !ok {
		return nil
	}
	for _, field := range []string{"community_prediction", "q2", "value"} {
		if v, ok := latest[field].(float64); ok {
			if p := validProb(v); p != nil {
				return p
			}
		}
	}
	return nil
}

func validProb(v float64) *float64 {
	if v < 0 || v > 1 {
		return nil
	}
	return &v
}
