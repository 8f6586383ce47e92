package uof

import (
	"testing"
	"time"
)

const summaryXML = `<?xml version="1.0" encoding="UTF-8"?>
<match_summary xmlns="http://schemas.sportradar.com/sportsapi/v1/unified" generated_at="2021-11-01T10:00:00+00:00">
  <sport_event id="sr:match:12345" scheduled="2021-10-31T14:00:00+00:00" start_time_tbd="false">
    <tournament id="sr:tournament:17" name="Premier League">
      <sport id="sr:sport:1" name="Soccer"/>
      <category id="sr:category:1" name="England"/>
    </tournament>
    <competitors>
      <competitor qualifier="home" id="sr:competitor:44" name="Liverpool"/>
      <competitor qualifier="away" id="sr:competitor:35" name="Brighton"/>
    </competitors>
  </sport_event>
  <sport_event_status status_code="4" status="closed" home_score="2" away_score="2"/>
</match_summary>`

func TestParseMatchSummary(t *testing.T) {
	sum, err := ParseMatchSummary([]byte(summaryXML))
	if err != nil {
		t.Fatalf("ParseMatchSummary: %v", err)
	}

	if sum.EventID != "sr:match:12345" {
		t.Errorf("EventID = %q, want %q", sum.EventID, "sr:match:12345")
	}
	if sum.Name != "Liverpool vs Brighton" {
		t.Errorf("Name = %q, want %q", sum.Name, "Liverpool vs Brighton")
	}
	if sum.Sport != "Soccer" {
		t.Errorf("Sport = %q, want %q", sum.Sport, "Soccer")
	}
	if sum.Status != "closed" {
		t.Errorf("Status = %q, want %q", sum.Status, "closed")
	}
	if sum.HomeTeam != "Liverpool" || sum.AwayTeam != "Brighton" {
		t.Errorf("teams = %q / %q", sum.HomeTeam, sum.AwayTeam)
	}
	want := time.Date(2021, 10, 31, 14, 0, 0, 0, time.UTC)
	if sum.Scheduled == nil || !sum.Scheduled.Equal(want) {
		t.Errorf("Scheduled = %v, want %v", sum.Scheduled, want)
	}
}

func TestParseMatchSummaryInvalid(t *testing.T) {
	if _, err := ParseMatchSummary([]byte("not xml at all")); err == nil {
		t.Error("expected error for junk input")
	}
	if _, err := ParseMatchSummary([]byte(`<match_summary></match_summary>`)); err == nil {
		t.Error("expected error for missing sport_event id")
	}
}
