package web

import (
	"embed"
	"fmt"
	"html/template"
	"image/color"
	"time"

	"ktutimetable/internal/layout"
	"ktutimetable/internal/model"
	"ktutimetable/internal/refresh"
	"ktutimetable/internal/viewer"
)

//go:embed templates/week.html
var templateFS embed.FS

var weekTemplate = template.Must(template.ParseFS(templateFS, "templates/week.html"))

// page is the view model of templates/week.html. Styles are built here so
// the template only places boxes.
type page struct {
	Week      string
	Path      string
	Status    string
	BodyStyle template.CSS
	GridStyle template.CSS
	Boxes     []box

	CanPrev     bool
	CanNext     bool
	PrevWeek    string
	NextWeek    string
	CurrentWeek string
	// Shown is set when the page shows the week snapshots follow.
	Shown bool

	AskIdentifier bool
	Identifier    string
}

type box struct {
	Class string
	Style template.CSS
	Lines []string
	Sub   string
}

func buildPage(l layout.Layout, snap viewer.Snapshot, opts Options, path, status string) page {
	p := page{
		Week:      snap.Week.String(),
		Path:      path,
		Status:    status,
		BodyStyle: template.CSS(fmt.Sprintf("background:%s;color:%s", cssColor(l.Header.Color), cssColor(opts.Theme.Foreground))),
		GridStyle: template.CSS(fmt.Sprintf("width:%dpx;height:%dpx", opts.Width, opts.Height)),
	}

	p.Boxes = append(p.Boxes,
		fillBox("header", l.Header),
		fillBox("body", l.Body),
	)
	for _, lbl := range l.DayLabels {
		p.Boxes = append(p.Boxes, labelBox(lbl))
	}
	for _, lbl := range l.DateLabels {
		p.Boxes = append(p.Boxes, labelBox(lbl))
	}
	if l.DayHighlight != nil {
		p.Boxes = append(p.Boxes, fillBox("today", *l.DayHighlight))
	}
	for _, sep := range l.Separators {
		p.Boxes = append(p.Boxes, lineBox("separator", sep))
	}
	for _, band := range l.BreakBands {
		style := rectStyle(band.Rect)
		if len(band.Tiles) > 0 {
			style += ";background-image:url(/assets/break.png);background-repeat:repeat"
		} else {
			style += ";background:" + cssColor(band.Color)
		}
		p.Boxes = append(p.Boxes, box{Class: "break", Style: template.CSS(style)})
	}
	for _, c := range l.Cards {
		p.Boxes = append(p.Boxes, cardBox(c))
	}
	if m := l.NowMarker; m != nil {
		p.Boxes = append(p.Boxes, lineBox("marker-outline", m.Outline), lineBox("marker", m.Line))
	}
	return p
}

func rectStyle(r layout.Rect) string {
	return fmt.Sprintf("left:%.1fpx;top:%.1fpx;width:%.1fpx;height:%.1fpx", r.X, r.Y, r.W, r.H)
}

func cssColor(c color.NRGBA) string {
	return fmt.Sprintf("rgba(%d,%d,%d,%.3g)", c.R, c.G, c.B, float64(c.A)/255)
}

func fillBox(class string, f layout.Fill) box {
	return box{Class: class, Style: template.CSS(rectStyle(f.Rect) + ";background:" + cssColor(f.Color))}
}

func lineBox(class string, l layout.Line) box {
	return box{Class: class, Style: template.CSS(rectStyle(l.Bounds()) + ";background:" + cssColor(l.Color))}
}

func labelBox(l layout.Label) box {
	translate := "-50%,-50%"
	if l.Align == layout.AlignRightBottom {
		translate = "-100%,-100%"
	}
	class := "label"
	if l.Monospace {
		class += " mono"
	}
	style := fmt.Sprintf("left:%.1fpx;top:%.1fpx;transform:translate(%s);font-size:%.1fpx;color:%s",
		l.X, l.Y, translate, l.FontSize, cssColor(l.Color))
	return box{Class: class, Style: template.CSS(style), Lines: []string{l.Text}}
}

func cardBox(c layout.Card) box {
	// Padding places the text at TextRect inside the border.
	pad := c.TextRect.X - c.Rect.X - c.BorderWidth
	if pad < 0 {
		pad = 0
	}
	h := c.Rect.H
	if h < 0 {
		h = 0
	}
	r := c.Rect
	r.H = h
	style := fmt.Sprintf("%s;background:%s;border:%.0fpx solid %s;border-radius:%.0fpx;padding:%.1fpx;font-size:%.1fpx;color:%s",
		rectStyle(r), cssColor(c.Background), c.BorderWidth, cssColor(c.Border), c.Rounding, pad, c.FontSize, cssColor(c.TextColor))
	return box{Class: "card", Style: template.CSS(style), Lines: c.TitleLines, Sub: c.TimeLabel}
}

// weekResponse is the JSON response shape for /api/week.
type weekResponse struct {
	Week    string      `json:"week"`
	Monday  string      `json:"monday"`
	First   string      `json:"first_week"`
	Last    string      `json:"last_week"`
	Loaded  bool        `json:"loaded"`
	Now     time.Time   `json:"now"`
	Events  []eventDTO  `json:"events"`
	Cards   []cardDTO   `json:"cards"`
	Marker  *float64    `json:"now_marker_y,omitempty"`
	Today   *int        `json:"today,omitempty"`
	Refresh *refreshDTO `json:"refresh,omitempty"`
}

type eventDTO struct {
	Date        string `json:"date"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Category    string `json:"category"`
	Summary     string `json:"summary"`
	ModuleName  string `json:"module_name,omitempty"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

type cardDTO struct {
	Day        int      `json:"day"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	W          float64  `json:"w"`
	H          float64  `json:"h"`
	Title      []string `json:"title"`
	Time       string   `json:"time"`
	Background string   `json:"background"`
	Border     string   `json:"border"`
}

type refreshDTO struct {
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	EventCount  int        `json:"event_count"`
}

func newEventDTO(e model.Event) eventDTO {
	return eventDTO{
		Date:        e.Date.Format("2006-01-02"),
		Start:       e.StartTime.String(),
		End:         e.EndTime.String(),
		Category:    e.Category.String(),
		Summary:     e.Summary,
		ModuleName:  e.ModuleName,
		Description: e.Description,
		Location:    e.Location,
	}
}

func newWeekResponse(l layout.Layout, snap viewer.Snapshot, first, last model.IsoWeek) weekResponse {
	resp := weekResponse{
		Week:   snap.Week.String(),
		Monday: snap.Week.Monday().Format("2006-01-02"),
		First:  first.String(),
		Last:   last.String(),
		Loaded: snap.Loaded,
		Now:    snap.Now,
		Events: make([]eventDTO, 0, len(snap.Events)),
		Cards:  make([]cardDTO, 0, len(l.Cards)),
	}
	for _, e := range snap.Events {
		resp.Events = append(resp.Events, newEventDTO(e))
	}
	for _, c := range l.Cards {
		resp.Cards = append(resp.Cards, cardDTO{
			Day:        c.Day,
			X:          c.Rect.X,
			Y:          c.Rect.Y,
			W:          c.Rect.W,
			H:          c.Rect.H,
			Title:      c.TitleLines,
			Time:       c.TimeLabel,
			Background: hexColor(c.Background),
			Border:     hexColor(c.Border),
		})
	}
	if l.NowMarker != nil {
		y := l.NowMarker.Line.Y1
		resp.Marker = &y
	}
	if l.DayHighlight != nil {
		day := model.WeekdayIndex(snap.Now)
		resp.Today = &day
	}
	return resp
}

func newRefreshDTO(st refresh.Status) *refreshDTO {
	dto := &refreshDTO{EventCount: st.EventCount}
	if !st.LastAttempt.IsZero() {
		t := st.LastAttempt
		dto.LastAttempt = &t
	}
	if !st.LastSuccess.IsZero() {
		t := st.LastSuccess
		dto.LastSuccess = &t
	}
	if st.LastError != nil {
		dto.LastError = st.LastError.Error()
	}
	return dto
}

func hexColor(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
