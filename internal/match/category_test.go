package match

import (
	"testing"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  domain.Category
	}{
		{"crypto", "Will Bitcoin reach $100k?", domain.CategoryCrypto},
		{"economy beats single keyword", "Will the Fed cut rates amid inflation?", domain.CategoryEconomy},
		{"sports", "Lakers win the NBA finals", domain.CategorySports},
		{"geopolitics outweighs substring hit", "Ukraine war ends this year", domain.CategoryGeopolitics},
		{"technology", "Apple ships an AI device", domain.CategoryTechnology},
		{"entertainment", "Movie sweeps the Oscars", domain.CategoryEntertainment},
		{"no keywords", "Something entirely unrelated", domain.CategoryOther},
		{"tie goes to earlier category", "BTC endorsed by Trump", domain.CategoryCrypto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.title); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.title, got, tt.want)
			}
		})
	}
}
