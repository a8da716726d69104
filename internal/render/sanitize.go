package render

import (
	"github.com/microcosm-cc/bluemonday"
)

// newPolicy returns the policy applied to mail bodies before rendering:
// user generated content rules plus the presentational attributes and
// inline images newsletters rely on.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowStyling()
	p.AllowAttrs("style").Globally()
	p.AllowAttrs("width", "height", "align", "bgcolor").Globally()
	p.AllowDataURIImages()
	return p
}
