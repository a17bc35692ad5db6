package ledger_test

import (
	"errors"
	"testing"

	"github.com/jensholdgaard/team-auction/internal/ledger"
)

func TestParseTeamID(t *testing.T) {
	tests := []struct {
		in      string
		want    ledger.TeamID
		wantErr bool
	}{
		{in: "A", want: ledger.TeamA},
		{in: " b ", want: ledger.TeamB},
		{in: "C", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ledger.ParseTeamID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTeamID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ledger.ErrUnknownTeam) {
				t.Errorf("error = %v, want ErrUnknownTeam", err)
			}
			if got != tt.want {
				t.Errorf("ParseTeamID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTeam_AcquireRelease(t *testing.T) {
	team := ledger.New(ledger.TeamA, 100)

	got, err := team.Acquire("p1", 60)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got.TotalSpent != 60 || got.Remaining() != 40 || !got.Owns("p1") {
		t.Errorf("after Acquire = %+v", got)
	}
	if team.Owns("p1") {
		t.Error("Acquire() must not modify the receiver")
	}

	if _, err := got.Acquire("p1", 10); !errors.Is(err, ledger.ErrAlreadyOwned) {
		t.Errorf("second Acquire() error = %v, want ErrAlreadyOwned", err)
	}
	if _, err := got.Acquire("p2", 41); !errors.Is(err, ledger.ErrOverBudget) {
		t.Errorf("over-budget Acquire() error = %v, want ErrOverBudget", err)
	}

	back, err := got.Release("p1", 60)
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if back.TotalSpent != 0 || back.Owns("p1") {
		t.Errorf("after Release = %+v", back)
	}
	if _, err := back.Release("p1", 60); !errors.Is(err, ledger.ErrNotOwned) {
		t.Errorf("second Release() error = %v, want ErrNotOwned", err)
	}
}

func TestTeam_Reconcile(t *testing.T) {
	tests := []struct {
		name    string
		team    ledger.Team
		prices  map[string]int
		wantErr error
	}{
		{
			name:   "balanced",
			team:   ledger.Team{ID: ledger.TeamA, Budget: 100, TotalSpent: 70, Players: []string{"p1", "p2"}},
			prices: map[string]int{"p1": 30, "p2": 40},
		},
		{
			name:    "drift",
			team:    ledger.Team{ID: ledger.TeamA, Budget: 100, TotalSpent: 75, Players: []string{"p1", "p2"}},
			prices:  map[string]int{"p1": 30, "p2": 40},
			wantErr: ledger.ErrDrift,
		},
		{
			name:    "owns unsold player",
			team:    ledger.Team{ID: ledger.TeamB, Budget: 100, TotalSpent: 30, Players: []string{"p1"}},
			prices:  map[string]int{},
			wantErr: ledger.ErrDrift,
		},
		{
			name:    "over budget",
			team:    ledger.Team{ID: ledger.TeamB, Budget: 50, TotalSpent: 70, Players: []string{"p1", "p2"}},
			prices:  map[string]int{"p1": 30, "p2": 40},
			wantErr: ledger.ErrOverBudget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.team.Reconcile(tt.prices)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Reconcile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
