package domain

import "testing"

func TestProgressPercentUsesAccountCounts(t *testing.T) {
	tests := []struct {
		name string
		job  SyncJob
		want int
	}{
		{
			name: "no accounts yet",
			job:  SyncJob{Status: JobStatusRunning},
			want: 0,
		},
		{
			name: "half of two accounts",
			job:  SyncJob{Status: JobStatusRunning, TotalAccounts: 2, ProcessedAccounts: 1},
			want: 50,
		},
		{
			name: "floors one of three",
			job:  SyncJob{Status: JobStatusRunning, TotalAccounts: 3, ProcessedAccounts: 1},
			want: 33,
		},
		{
			name: "all accounts done",
			job:  SyncJob{Status: JobStatusCompleted, TotalAccounts: 4, ProcessedAccounts: 4},
			want: 100,
		},
		{
			name: "message counters do not leak in",
			job: SyncJob{
				Status:               JobStatusRunning,
				TotalAccounts:        2,
				ProcessedAccounts:    1,
				EstimatedTotalEmails: 1000,
				TotalEmailsProcessed: 100,
			},
			want: 50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.ProgressPercent(); got != tt.want {
				t.Errorf("ProgressPercent() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEmailProgressPercent(t *testing.T) {
	job := SyncJob{EstimatedTotalEmails: 200, TotalEmailsProcessed: 50}
	if got := job.EmailProgressPercent(); got != 25 {
		t.Errorf("EmailProgressPercent() = %v, want 25", got)
	}

	over := SyncJob{EstimatedTotalEmails: 100, TotalEmailsProcessed: 150}
	if got := over.EmailProgressPercent(); got != 100 {
		t.Errorf("EmailProgressPercent() over estimate = %v, want 100", got)
	}

	none := SyncJob{TotalEmailsProcessed: 10}
	if got := none.EmailProgressPercent(); got != 0 {
		t.Errorf("EmailProgressPercent() without estimate = %v, want 0", got)
	}
}
