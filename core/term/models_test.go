package term

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTerm_YearBoundary(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name string
		flag *bool
		want bool
	}{
		{name: "Term 1 2026", want: true},
		{name: "term1", want: true},
		{name: "2026 TERM 1", want: true},
		{name: "Term 10", want: false},
		{name: "Term 11 2026", want: false},
		{name: "Term 2 2026", want: false},
		{name: "Midterm 1", want: false},
		{name: "Semester A", flag: &yes, want: true},
		{name: "Term 1 2026", flag: &no, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nt := NewTerm{Name: tt.name, IsYearBoundary: tt.flag}
			assert.Equal(t, tt.want, nt.YearBoundary())
		})
	}
}
