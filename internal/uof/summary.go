package uof

import (
	"encoding/xml"
	"fmt"
	"time"
)

// MatchSummary is the subset of a sport-event summary document used to
// populate the local match table for console display.
type MatchSummary struct {
	EventID   string
	Name      string
	Sport     string
	Status    string
	HomeTeam  string
	AwayTeam  string
	Scheduled *time.Time
}

type summaryDoc struct {
	SportEvent struct {
		ID         string `xml:"id,attr"`
		Scheduled  string `xml:"scheduled,attr"`
		Tournament struct {
			Sport struct {
				Name string `xml:"name,attr"`
			} `xml:"sport"`
		} `xml:"tournament"`
		Competitors struct {
			Competitor []struct {
				Name      string `xml:"name,attr"`
				Qualifier string `xml:"qualifier,attr"`
			} `xml:"competitor"`
		} `xml:"competitors"`
	} `xml:"sport_event"`
	Status struct {
		Status string `xml:"status,attr"`
	} `xml:"sport_event_status"`
}

// ParseMatchSummary extracts display fields from a summary.xml payload.
func ParseMatchSummary(raw []byte) (*MatchSummary, error) {
	var doc summaryDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	if doc.SportEvent.ID == "" {
		return nil, fmt.Errorf("parse summary: missing sport_event id")
	}

	sum := &MatchSummary{
		EventID: doc.SportEvent.ID,
		Sport:   doc.SportEvent.Tournament.Sport.Name,
		Status:  doc.Status.Status,
	}
	for _, c := range doc.SportEvent.Competitors.Competitor {
		switch c.Qualifier {
		case "home":
			sum.HomeTeam = c.Name
		case "away":
			sum.AwayTeam = c.Name
		}
	}
	if sum.HomeTeam != "" && sum.AwayTeam != "" {
		sum.Name = sum.HomeTeam + " vs " + sum.AwayTeam
	}
	if doc.SportEvent.Scheduled != "" {
		if t, err := time.Parse(time.RFC3339, doc.SportEvent.Scheduled); err == nil {
			sum.Scheduled = &t
		}
	}
	return sum, nil
}
