// api/schemas/browser.go
package schemas

import "time"

// Element describes one interactive element harvested from the page. The agent
// trims text fields before sending; everything here is optional except Tag.
type Element struct {
	Tag         string `json:"type"`
	Text        string `json:"text,omitempty"`
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Role        string `json:"role,omitempty"`
	AriaLabel   string `json:"ariaLabel,omitempty"`
	Href        string `json:"href,omitempty"`
	Value       string `json:"value,omitempty"`

	// Hints set by the agent's element harvester.
	IsSubmitButton bool `json:"isSubmitButton,omitempty"`
	IsPdfLink      bool `json:"isPdfLink,omitempty"`
}

// PageInfo is the result payload of getPageInfo.
type PageInfo struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	ReadyState string `json:"readyState,omitempty"`
}

// Observation is an immutable snapshot of the page at one point in time.
// Diagnostics is non-empty when a sub-call failed; an observation with
// diagnostics never aborts a task by itself.
type Observation struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	ReadyState  string            `json:"readyState,omitempty"`
	Elements    []Element         `json:"elements"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
	Taken       time.Time         `json:"taken"`
}

// Failed reports whether the observation carries any diagnostics.
func (o *Observation) Failed() bool { return len(o.Diagnostics) > 0 }

// Blank reports whether nothing at all is known about the page, the
// deterministic starting condition for the planner.
func (o *Observation) Blank() bool {
	return o.URL == "" && o.Title == "" && len(o.Elements) == 0
}
