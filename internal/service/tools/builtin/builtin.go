// Package builtin registers the stock tools. All three run as deterministic
// stubs so the pipeline is fully testable offline; API keys are accepted in
// configuration for deployments that swap in live backends.
package builtin

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"

	"spectrum/internal/config"
	"spectrum/internal/service/tools"
)

// Register adds the weather, search and calculator tools to the catalog.
func Register(reg *tools.Registry, cfg *config.Config) error {
	for _, t := range []*tools.Tool{weather(), search(), calculator()} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

var conditions = []string{"sunny", "partly cloudy", "overcast", "light rain", "thunderstorms"}

func weather() *tools.Tool {
	return &tools.Tool{
		ID:          "weather",
		Name:        "Weather Forecast",
		Category:    "information",
		Description: "Looks up the weather forecast for a city.",
		ParameterSchema: `{
			"type": "object",
			"properties": {
				"city": {"type": "string", "minLength": 1},
				"date": {"type": "string"}
			},
			"required": ["city"]
		}`,
		Execute: func(ctx context.Context, params map[string]any) (any, error) {
			city, _ := params["city"].(string)
			date, _ := params["date"].(string)
			if date == "" {
				date = "today"
			}
			seed := hashOf(city + "|" + date)
			condition := conditions[seed%uint32(len(conditions))]
			temp := 18 + int(seed%15)
			rain := int(seed % 101)
			return map[string]any{
				"city":                city,
				"date":                date,
				"condition":           condition,
				"temperature_c":       temp,
				"rain_chance_percent": rain,
				"summary": fmt.Sprintf("%s in %s %s, %d°C, %d%% chance of rain",
					condition, city, date, temp, rain),
			}, nil
		},
	}
}

func search() *tools.Tool {
	return &tools.Tool{
		ID:          "search",
		Name:        "Web Search",
		Category:    "information",
		Description: "Searches for information on a topic.",
		ParameterSchema: `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1}
			},
			"required": ["query"]
		}`,
		Execute: func(ctx context.Context, params map[string]any) (any, error) {
			query, _ := params["query"].(string)
			results := make([]map[string]any, 0, 3)
			for i := 1; i <= 3; i++ {
				results = append(results, map[string]any{
					"title":   fmt.Sprintf("Result %d for %q", i, query),
					"snippet": fmt.Sprintf("Reference material %d covering %s.", i, query),
				})
			}
			return map[string]any{
				"query":   query,
				"results": results,
				"summary": fmt.Sprintf("3 results found for %q", query),
			}, nil
		},
	}
}

var exprPattern = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*([-+*/])\s*(-?\d+(?:\.\d+)?)\s*$`)

func calculator() *tools.Tool {
	return &tools.Tool{
		ID:          "calculator",
		Name:        "Calculator",
		Category:    "utility",
		Description: "Evaluates a simple arithmetic expression.",
		ParameterSchema: `{
			"type": "object",
			"properties": {
				"expression": {"type": "string", "minLength": 1}
			},
			"required": ["expression"]
		}`,
		Execute: func(ctx context.Context, params map[string]any) (any, error) {
			expr, _ := params["expression"].(string)
			m := exprPattern.FindStringSubmatch(expr)
			if m == nil {
				return nil, fmt.Errorf("unsupported expression %q", expr)
			}
			a, _ := strconv.ParseFloat(m[1], 64)
			b, _ := strconv.ParseFloat(m[3], 64)
			var result float64
			switch m[2] {
			case "+":
				result = a + b
			case "-":
				result = a - b
			case "*":
				result = a * b
			case "/":
				if b == 0 {
					return nil, fmt.Errorf("division by zero")
				}
				result = a / b
			}
			return map[string]any{
				"expression": expr,
				"result":     result,
				"summary":    fmt.Sprintf("%s = %g", expr, result),
			}, nil
		},
	}
}

func hashOf(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
