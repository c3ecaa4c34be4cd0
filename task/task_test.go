package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req := NewRequest(CategoryCoding, PriorityHigh, []byte(`{"prompt":"x"}`))

	require.NoError(t, req.Validate())
	assert.NotEmpty(t, req.ID)
	assert.False(t, req.CreatedAt.IsZero())
	assert.Equal(t, CategoryCoding, req.Category)
	assert.Equal(t, PriorityHigh, req.Priority)
}

func TestRequestValidate(t *testing.T) {
	valid := NewRequest(CategoryFast, PriorityLow, nil)

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing id", func(r *Request) { r.ID = "" }},
		{"unknown category", func(r *Request) { r.Category = "gardening" }},
		{"empty category", func(r *Request) { r.Category = "" }},
		{"unknown priority", func(r *Request) { r.Priority = "whenever" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			assert.Error(t, req.Validate())
		})
	}
}

func TestCategoryIsValid(t *testing.T) {
	for _, c := range []Category{CategoryPlanning, CategoryCoding, CategoryWriting, CategoryReviewing, CategoryFast} {
		assert.True(t, c.IsValid(), c)
	}
	assert.False(t, Category("").IsValid())
	assert.False(t, Category("gardening").IsValid())
}

func TestNewComposite(t *testing.T) {
	c := NewComposite("ship feature", "implement the widget", ModeSequential, Requirements{
		Deliverables: []Deliverable{{Name: "spec", Type: "spec"}},
	})

	require.NoError(t, c.Validate())
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, StatusPlanned, c.Status)
	assert.Equal(t, PriorityMedium, c.Priority)
}

func TestCompositeValidate(t *testing.T) {
	base := NewComposite("t", "d", ModeParallel, Requirements{
		Deliverables: []Deliverable{{Name: "a", Type: "document"}},
	})

	tests := []struct {
		name   string
		mutate func(*Composite)
		wantOK bool
	}{
		{"valid", func(c *Composite) {}, true},
		{"missing id", func(c *Composite) { c.ID = "" }, false},
		{"unknown mode", func(c *Composite) { c.Mode = "spiral" }, false},
		{"no deliverables", func(c *Composite) { c.Requirements.Deliverables = nil }, false},
		{"single agent needs no deliverables", func(c *Composite) {
			c.Mode = ModeSingleAgent
			c.Requirements.Deliverables = nil
		}, true},
		{"bad priority", func(c *Composite) { c.Priority = "whenever" }, false},
		{"unset priority allowed", func(c *Composite) { c.Priority = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if tt.wantOK {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPlanned.Terminal())
	assert.False(t, StatusRunning.Terminal())
}
