package cmds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-go-golems/fcrunner/pkg/inference/tools"
	"github.com/pkg/errors"
)

type weatherRequest struct {
	City string `json:"city" jsonschema:"required,description=City to get the weather for"`
	Unit string `json:"unit,omitempty" jsonschema:"enum=celsius,enum=fahrenheit,description=Temperature unit"`
}

var demoWeather = map[string]struct {
	celsius float64
	sky     string
}{
	"paris":  {18, "sunny"},
	"london": {12, "overcast"},
	"tokyo":  {24, "light rain"},
}

func getWeather(req weatherRequest) (string, error) {
	w, ok := demoWeather[strings.ToLower(req.City)]
	if !ok {
		return "", tools.NewParameterError(fmt.Sprintf("no weather data for %s", req.City))
	}
	if req.Unit == "fahrenheit" {
		return fmt.Sprintf("%.0f°F, %s", w.celsius*9/5+32, w.sky), nil
	}
	return fmt.Sprintf("%.0f°C, %s", w.celsius, w.sky), nil
}

type timeRequest struct {
	Timezone string `json:"timezone" jsonschema:"required,description=IANA timezone name"`
}

func currentTime(_ context.Context, req timeRequest) (string, error) {
	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		return "", tools.NewParameterError(err.Error())
	}
	return time.Now().In(loc).Format("2006-01-02 15:04 MST"), nil
}

type chartRequest struct {
	City   string `json:"city" jsonschema:"required"`
	SaveAs string `json:"save_as,omitempty" jsonschema:"description=Variable name to bind the chart to"`
}

func renderChart(ctx context.Context, req chartRequest) ([]tools.InvokeMessage, error) {
	w, ok := demoWeather[strings.ToLower(req.City)]
	if !ok {
		return nil, tools.NewParameterError(fmt.Sprintf("no weather data for %s", req.City))
	}
	user, _ := tools.UserFromContext(ctx)
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="200" height="100">`+
		`<rect x="10" y="%d" width="40" height="%d" fill="orange"/>`+
		`<text x="60" y="50">%s %.0f°C</text></svg>`,
		90-int(w.celsius*2), int(w.celsius*2), req.City, w.celsius)

	chart := tools.ImageMessage([]byte(svg), "image/svg+xml", req.SaveAs)
	chart.Meta = map[string]any{"filename": strings.ToLower(req.City) + "-chart.svg"}
	return []tools.InvokeMessage{
		tools.TextMessage(fmt.Sprintf("chart for %s rendered for %s", req.City, userOrAnonymous(user))),
		chart,
	}, nil
}

type extractRequest struct {
	HTML     string `json:"html" jsonschema:"required,description=HTML document"`
	Selector string `json:"selector,omitempty" jsonschema:"description=CSS selector, defaults to body"`
}

func extractText(req extractRequest) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(req.HTML))
	if err != nil {
		return "", tools.NewInvocationError(err)
	}
	selector := req.Selector
	if selector == "" {
		selector = "body"
	}
	var parts []string
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if text := strings.Join(strings.Fields(sel.Text()), " "); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return "", tools.NewParameterError(fmt.Sprintf("nothing matches %s", selector))
	}
	return strings.Join(parts, "\n"), nil
}

func userOrAnonymous(user string) string {
	if user == "" {
		return "anonymous"
	}
	return user
}

// NewDemoRegistry returns the tools offered to scripted runs.
func NewDemoRegistry() (*tools.InMemoryRegistry, error) {
	reg, err := tools.NewInMemoryRegistry()
	if err != nil {
		return nil, err
	}
	for _, t := range []struct {
		name, description string
		fn                interface{}
	}{
		{"get_weather", "Get the current weather for a city", getWeather},
		{"current_time", "Get the current local time in a timezone", currentTime},
		{"render_chart", "Render a temperature chart for a city", renderChart},
		{"extract_text", "Extract the visible text of an HTML document", extractText},
	} {
		if err := reg.RegisterFunc(t.name, t.description, t.fn); err != nil {
			return nil, errors.Wrapf(err, "could not register %s", t.name)
		}
	}
	return reg, nil
}
