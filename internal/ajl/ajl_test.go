package ajl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/codeGROOVE-dev/contestian/internal/atcoder"
	"github.com/codeGROOVE-dev/contestian/internal/state"
)

const school = "筑波大学附属中学校"

var winter2024 = Source{Year: 2024, Season: Winter}

func TestSource(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"school A", winter2024.SchoolURL(Algorithm), "https://img.atcoder.jp/ajl2024winter/school_rankings_grades_1to3_A.html"},
		{"grade 2 H", winter2024.GradeURL(Heuristic, 2), "https://img.atcoder.jp/ajl2024winter/grade_2_rankings_H_score.html"},
		{
			"custom base",
			Source{BaseURL: "http://localhost:8080/", Year: 2025, Season: Summer}.SchoolURL(Heuristic),
			"http://localhost:8080/ajl2025summer/school_rankings_grades_1to3_H.html",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("URL = %q, want %q", tt.got, tt.want)
			}
		})
	}

	if got := winter2024.Grades(); !slices.Equal(got, []int{1, 2}) {
		t.Errorf("winter Grades() = %v, want [1 2]", got)
	}
	if got := (Source{Season: Summer}).Grades(); !slices.Equal(got, []int{1, 2, 3}) {
		t.Errorf("summer Grades() = %v, want [1 2 3]", got)
	}
}

func TestParseSeason(t *testing.T) {
	tests := []struct {
		in      string
		want    Season
		wantErr bool
	}{
		{"WINTER", Winter, false},
		{" summer ", Summer, false},
		{"spring", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSeason(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSeason(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseSeason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDivision_Title(t *testing.T) {
	if got := Algorithm.Title(); got != "アルゴリズム" {
		t.Errorf("Algorithm.Title() = %q", got)
	}
	if got := Heuristic.Title(); got != "ヒューリスティック" {
		t.Errorf("Heuristic.Title() = %q", got)
	}
}

func TestParseRanking(t *testing.T) {
	page := rankingHTML(studentHeader,
		"1|alice|開成中学校|1,234",
		"-|note|-|0",
		"2|bob|"+school+"|987.5",
	)
	got, err := ParseRanking(strings.NewReader(page))
	if err != nil {
		t.Fatalf("ParseRanking() error = %v", err)
	}
	want := []Entry{
		{Rank: 1, User: "alice", School: "開成中学校", Score: 1234},
		{Rank: 2, User: "bob", School: school, Score: 987},
	}
	if !slices.Equal(got, want) {
		t.Errorf("ParseRanking() = %+v, want %+v", got, want)
	}
}

func TestParseRanking_Errors(t *testing.T) {
	tests := []struct {
		name string
		page string
	}{
		{"no table", "<html><body>準備中</body></html>"},
		{"missing score column", rankingHTML([]string{"順位", "学校名"}, "1|開成中学校")},
		{"bad score", rankingHTML(schoolHeader, "1|開成中学校|3|many")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRanking(strings.NewReader(tt.page)); err == nil {
				t.Error("ParseRanking() error = nil, want error")
			}
		})
	}
}

type trackerFixture struct {
	fetcher *mockFetcher
	repo    *state.MemoryRepository[Snapshot]
	tracker *Tracker
}

func newTrackerFixture(src Source) *trackerFixture {
	f := &trackerFixture{fetcher: newMockFetcher(), repo: state.NewMemoryRepository[Snapshot]()}
	f.tracker = New(Config{
		Fetcher:       f.fetcher,
		Repo:          f.repo,
		Source:        src,
		Abbreviations: map[string]string{"開成中学校": "開成"},
	})
	return f
}

func TestTracker_Schools(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(winter2024)
	f.fetcher.pages[winter2024.SchoolURL(Algorithm)] = rankingHTML(schoolHeader,
		"1|開成中学校|12|9600",
		"2|"+school+"|8|9100",
		"3|麻布中学校|5|8700",
	)
	f.fetcher.pages[winter2024.SchoolURL(Heuristic)] = rankingHTML(schoolHeader, "1|麻布中学校|5|300")

	reports, err := f.tracker.Schools(ctx)
	if err != nil {
		t.Fatalf("Schools() error = %v", err)
	}
	if len(reports) != 1 || reports[0].Division != Algorithm {
		t.Fatalf("Schools() = %+v, want only the algorithm division", reports)
	}
	r := reports[0]
	if r.Current != (Standing{Rank: 2, Score: 9100}) || r.Baseline != (Standing{}) {
		t.Errorf("first report = %+v, want rank 2 with no baseline", r)
	}
	if r.AboveName != "開成" || r.Gap != 500 {
		t.Errorf("above = %q gap %d, want 開成 500", r.AboveName, r.Gap)
	}
	desc := r.Embed().Description
	for _, want := range []string{"# **||2||位**", "> **開成**まであと**500**点！", "# 9100点"} {
		if !strings.Contains(desc, want) {
			t.Errorf("Embed() missing %q:\n%s", want, desc)
		}
	}
	if strings.Contains(desc, "前回より") {
		t.Errorf("Embed() has a score change without a baseline:\n%s", desc)
	}

	// A new page moves the last standing into the baseline.
	f.fetcher.pages[winter2024.SchoolURL(Algorithm)] = rankingHTML(schoolHeader,
		"1|"+school+"|9|9900",
		"2|開成中学校|12|9700",
	)
	for range 2 {
		reports, err = f.tracker.Schools(ctx)
		if err != nil {
			t.Fatalf("Schools() error = %v", err)
		}
		r = reports[0]
		if r.Baseline != (Standing{Rank: 2, Score: 9100}) {
			t.Errorf("Baseline = %+v, want the previous page's standing", r.Baseline)
		}
	}
	desc = r.Embed().Description
	for _, want := range []string{"# 2位→**||1||位**", "> 現在トップです！", "# 9900点", "前回より**800点**増えました！"} {
		if !strings.Contains(desc, want) {
			t.Errorf("Embed() missing %q:\n%s", want, desc)
		}
	}

	snap, err := f.repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec := snap.Schools[Algorithm]; rec == nil || rec.Last.Rank != 1 || rec.Previous.Rank != 2 {
		t.Errorf("persisted record = %+v, want last 1 previous 2", rec)
	}
}

func TestTracker_SchoolsNotRanked(t *testing.T) {
	f := newTrackerFixture(winter2024)
	for _, d := range Divisions {
		f.fetcher.pages[winter2024.SchoolURL(d)] = rankingHTML(schoolHeader, "1|開成中学校|12|9600")
	}
	if _, err := f.tracker.Schools(context.Background()); !errors.Is(err, ErrSchoolNotRanked) {
		t.Errorf("Schools() error = %v, want ErrSchoolNotRanked", err)
	}
}

func TestTracker_FetchError(t *testing.T) {
	f := newTrackerFixture(winter2024)
	f.fetcher.err = errors.New("connection reset")

	if _, err := f.tracker.Schools(context.Background()); err == nil {
		t.Error("Schools() error = nil, want fetch error")
	}
	if _, err := f.tracker.Students(context.Background()); err == nil {
		t.Error("Students() error = nil, want fetch error")
	}
	if f.repo.Saves() != 0 {
		t.Errorf("Saves() = %d, want 0 after failed fetches", f.repo.Saves())
	}
}

func TestTracker_Students(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(winter2024)
	g1 := winter2024.GradeURL(Algorithm, 1)
	f.fetcher.pages[g1] = rankingHTML(studentHeader,
		"1|alice|開成中学校|500",
		"2|bob|"+school+"|450",
		"3|carol|"+school+"|300",
	)
	f.fetcher.pages[winter2024.GradeURL(Algorithm, 2)] = rankingHTML(studentHeader, "1|dave|"+school+"|600")
	for _, g := range winter2024.Grades() {
		f.fetcher.pages[winter2024.GradeURL(Heuristic, g)] = rankingHTML(studentHeader)
	}

	reports, err := f.tracker.Students(ctx)
	if err != nil {
		t.Fatalf("Students() error = %v", err)
	}
	if len(f.fetcher.calls) != 4 {
		t.Errorf("fetched %d pages, want 4 (no third grade in winter)", len(f.fetcher.calls))
	}
	if len(reports) != 2 {
		t.Fatalf("Students() = %d reports, want 2", len(reports))
	}

	a := reports[0]
	if len(a.Grades) != 2 {
		t.Fatalf("algorithm grades = %d, want 2", len(a.Grades))
	}
	want := []StudentLine{
		{User: "bob", Rank: 2, AboveUser: "alice", AboveSchool: "開成", Gap: 50},
		{User: "carol", Rank: 3, AboveUser: "bob", AboveSchool: "筑波大学附属", Gap: 150},
	}
	if !slices.Equal(a.Grades[0].Students, want) {
		t.Errorf("grade 1 = %+v, want %+v", a.Grades[0].Students, want)
	}
	if !slices.Equal(a.Newcomers, []string{"bob", "carol", "dave"}) {
		t.Errorf("Newcomers = %v, want bob carol dave", a.Newcomers)
	}
	desc := a.Embed().Description
	for _, want := range []string{
		"## 中1",
		"### **bob**\n>  初参加 → **2**位\n>  _開成_ **alice** まであと **50**点！",
		"## 中2",
		"### **dave**\n>  初参加 → **1**位  現在トップです！",
		":tada: 新規参加者 :tada:\n- **bob**\n- **carol**\n- **dave**\n",
	} {
		if !strings.Contains(desc, want) {
			t.Errorf("Embed() missing %q:\n%s", want, desc)
		}
	}
	if got := reports[1].Embed().Description; got != "ランキングに載っている生徒はいません。" {
		t.Errorf("empty division Embed() = %q", got)
	}

	// bob climbs on the next grade 1 page.
	f.fetcher.pages[g1] = rankingHTML(studentHeader,
		"1|bob|"+school+"|520",
		"2|alice|開成中学校|500",
		"3|erin|麻布中学校|350",
		"4|carol|"+school+"|300",
	)
	reports, err = f.tracker.Students(ctx)
	if err != nil {
		t.Fatalf("Students() error = %v", err)
	}
	lines := reports[0].Grades[0].Students
	if lines[0].PreviousRank != 2 || lines[0].AboveUser != "" {
		t.Errorf("bob = %+v, want previous rank 2 at the top", lines[0])
	}
	if lines[1].PreviousRank != 3 || lines[1].AboveSchool != "麻布" {
		t.Errorf("carol = %+v, want previous rank 3 below 麻布", lines[1])
	}
	if slices.Contains(reports[0].Newcomers, "bob") || slices.Contains(reports[0].Newcomers, "carol") {
		t.Errorf("Newcomers = %v, want returning students excluded", reports[0].Newcomers)
	}
	if !strings.Contains(reports[0].Embed().Description, "### **bob**\n>  2位 → **1**位  現在トップです！") {
		t.Errorf("Embed() missing bob's climb:\n%s", reports[0].Embed().Description)
	}
}

func TestTracker_WithAtCoderClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ajl2024winter/school_rankings_grades_1to3_A.html":
			fmt.Fprint(w, rankingHTML(schoolHeader, "1|"+school+"|9|9900"))
		case "/ajl2024winter/school_rankings_grades_1to3_H.html":
			fmt.Fprint(w, rankingHTML(schoolHeader, "1|開成中学校|3|120", "2|"+school+"|4|100"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := atcoder.New(atcoder.Config{BaseURL: srv.URL, RequestsPerSecond: 100})
	if err != nil {
		t.Fatalf("atcoder.New() error = %v", err)
	}
	tracker := New(Config{
		Fetcher: client,
		Repo:    state.NewMemoryRepository[Snapshot](),
		Source:  Source{BaseURL: srv.URL, Year: 2024, Season: Winter},
	})

	embeds, err := tracker.SchoolEmbeds(context.Background())
	if err != nil {
		t.Fatalf("SchoolEmbeds() error = %v", err)
	}
	if len(embeds) != 2 {
		t.Fatalf("SchoolEmbeds() = %d embeds, want 2", len(embeds))
	}
	if embeds[0].Title != "アルゴリズム" || embeds[1].Title != "ヒューリスティック" {
		t.Errorf("titles = %q, %q", embeds[0].Title, embeds[1].Title)
	}
	if !strings.Contains(embeds[1].Description, "> **開成中学校**まであと**20**点！") {
		t.Errorf("heuristic embed missing gap:\n%s", embeds[1].Description)
	}

	if _, err := tracker.StudentEmbeds(context.Background()); !errors.Is(err, atcoder.ErrNotFound) {
		t.Errorf("StudentEmbeds() error = %v, want ErrNotFound for missing grade pages", err)
	}
}
