package validator

import (
	"errors"
	"testing"

	"github.com/pauljones0/profile-scraper/internal/models"
)

func intPtr(n int) *int { return &n }

func TestValidator_ValidateStruct(t *testing.T) {
	v := New()

	valid := models.PostRecord{ID: "1", Type: models.PostOriginal}

	tests := []struct {
		name    string
		result  models.ScrapeResult
		wantErr bool
	}{
		{
			name: "Valid Result",
			result: models.ScrapeResult{
				ProfileSummary: models.ProfileSummary{AccountName: "Jack", Handle: "@jack", Followers: 10, PostCount: 2},
				Posts: []models.PostRecord{
					valid,
					{ID: "2", Type: models.PostQuote, Engagement: models.EngagementCounts{Like: 4, Views: intPtr(10)}},
				},
			},
			wantErr: false,
		},
		{
			name:    "Empty Result",
			result:  models.ScrapeResult{Posts: []models.PostRecord{}},
			wantErr: false,
		},
		{
			name:    "Missing Post ID",
			result:  models.ScrapeResult{Posts: []models.PostRecord{{Type: models.PostOriginal}}},
			wantErr: true,
		},
		{
			name:    "Unknown Post Type",
			result:  models.ScrapeResult{Posts: []models.PostRecord{{ID: "1", Type: "Reply"}}},
			wantErr: true,
		},
		{
			name: "Negative Likes",
			result: models.ScrapeResult{Posts: []models.PostRecord{
				{ID: "1", Type: models.PostOriginal, Engagement: models.EngagementCounts{Like: -1}},
			}},
			wantErr: true,
		},
		{
			name: "Negative Views",
			result: models.ScrapeResult{Posts: []models.PostRecord{
				{ID: "1", Type: models.PostOriginal, Engagement: models.EngagementCounts{Views: intPtr(-1)}},
			}},
			wantErr: true,
		},
		{
			name:    "Negative Followers",
			result:  models.ScrapeResult{ProfileSummary: models.ProfileSummary{Followers: -1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.ValidateStruct(tt.result); (err != nil) != tt.wantErr {
				t.Errorf("ValidateStruct() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFieldErrors(t *testing.T) {
	err := New().ValidateStruct(models.ScrapeResult{Posts: []models.PostRecord{{Type: "Reply"}}})
	fields := FieldErrors(err)
	if len(fields) != 2 {
		t.Fatalf("FieldErrors() = %v, want 2 entries", fields)
	}
	want := map[string]bool{
		"ScrapeResult.Posts[0].ID: required": true,
		"ScrapeResult.Posts[0].Type: oneof":  true,
	}
	for _, f := range fields {
		if !want[f] {
			t.Errorf("unexpected field error %q", f)
		}
	}

	if FieldErrors(errors.New("other")) != nil {
		t.Error("non-validation errors should yield nil")
	}
}
