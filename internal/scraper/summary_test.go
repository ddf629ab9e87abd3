package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pauljones0/profile-scraper/internal/browser/browsertest"
	"github.com/pauljones0/profile-scraper/internal/models"
)

func TestReadSummary(t *testing.T) {
	tests := []struct {
		name string
		page *browsertest.Page
		want models.ProfileSummary
	}{
		{
			name: "full header",
			page: &browsertest.Page{
				Header: browsertest.Profile{Name: "Jack", Handle: "@jack", Followers: "1.2K", PostCount: "1,234"}.HTML(),
			},
			want: models.ProfileSummary{AccountName: "Jack", Handle: "@jack", Followers: 1200, PostCount: 1234},
		},
		{
			name: "abbreviated counts",
			page: &browsertest.Page{
				Header: browsertest.Profile{Name: "Big", Handle: "@big", Followers: "15M", PostCount: "12.5K"}.HTML(),
			},
			want: models.ProfileSummary{AccountName: "Big", Handle: "@big", Followers: 15_000_000, PostCount: 12500},
		},
		{
			name: "name and handle from title and url",
			page: &browsertest.Page{
				PageTitle: "Jack (@jack) / X",
				PageURL:   "https://x.com/jack",
			},
			want: models.ProfileSummary{AccountName: "Jack", Handle: "@jack"},
		},
		{
			name: "nothing available",
			page: &browsertest.Page{PageURL: "https://x.com/home"},
			want: models.ProfileSummary{},
		},
		{
			name: "unparseable follower count",
			page: &browsertest.Page{
				Header: browsertest.Profile{Name: "Jack", Handle: "@jack", Followers: "many", PostCount: "3"}.HTML(),
			},
			want: models.ProfileSummary{AccountName: "Jack", Handle: "@jack", PostCount: 3},
		},
	}

	r := NewSummaryReader(DefaultSelectors().Profile, time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ReadSummary(context.Background(), tt.page)
			if err != nil {
				t.Fatalf("ReadSummary: %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadSummary() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReadSummary_ConnectionLoss(t *testing.T) {
	r := NewSummaryReader(DefaultSelectors().Profile, time.Second)
	if _, err := r.ReadSummary(context.Background(), deadPage{}); !errors.Is(err, ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}
}
