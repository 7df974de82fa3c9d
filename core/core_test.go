package core

import (
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDBOrdering(t *testing.T) {
	allowed := []string{"created_at", "severity"}
	tests := []struct {
		raw     string
		want    DBOrdering
		wantErr string
	}{
		{raw: "created_at", want: DBOrdering{Field: "created_at", Ascending: true}},
		{raw: " -Severity ", want: DBOrdering{Field: "severity"}},
		{raw: "-creatd_at", wantErr: "must be one of: created_at, severity (did you mean created_at?)"},
		{raw: "title", wantErr: "must be one of: created_at, severity"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDBOrdering(tt.raw, allowed...)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			require.True(t, IsValidationError(err))
			vErr := errors.Cause(err).(*ValidationError)
			assert.Equal(t, []FieldError{{Field: "ordering", Error: tt.wantErr}}, vErr.Fields)
		})
	}

	assert.Equal(t, "severity DESC", DBOrdering{Field: "severity"}.String())
	assert.Equal(t, "created_at ASC", DBOrdering{Field: "created_at", Ascending: true}.String())
}

func TestOneOf(t *testing.T) {
	allowed := []string{"student", "lecturer"}
	assert.Equal(t, "must be one of: student, lecturer", OneOf("", allowed))
	assert.Equal(t, "must be one of: student, lecturer (did you mean lecturer?)", OneOf("lectrer", allowed))
	assert.Equal(t, "must be one of: student, lecturer", OneOf("admin", allowed))
}

func TestCleanString(t *testing.T) {
	assert.Equal(t, "Quiz1", CleanString("  Quiz1\n"))
	assert.Equal(t, "quiz1", CleanString("  Quiz1\n", true))
}

func TestConfig_Validate(t *testing.T) {
	conf := NewConfig()
	require.NoError(t, conf.Validate(), "defaults are valid")

	conf.Alerts.Strategy = "newest"
	conf.Alerts.MotivationalChance = 1.5
	err := conf.Validate()
	require.True(t, IsValidationError(err))
	vErr := errors.Cause(err).(*ValidationError)
	assert.Equal(t, []FieldError{
		{Field: "alerts.strategy", Error: "must be one of: cooldown, replace"},
		{Field: "alerts.motivationalChance", Error: "must be between 0 and 1"},
	}, vErr.Fields)

	conf = NewConfig()
	conf.SecretKey = ""
	assert.Error(t, conf.Validate())
}

func TestConfig_defaults(t *testing.T) {
	conf := NewConfig()
	assert.Equal(t, "cooldown", conf.Alerts.Strategy)
	assert.Equal(t, 24*time.Hour, conf.Alerts.Cooldown)
	assert.Equal(t, 5.0, conf.Alerts.ValueDelta)
	assert.Equal(t, 65.0, conf.Alerts.LecturerThreshold)
	assert.Equal(t, 50.0, conf.Alerts.ReplaceLecturerThreshold)
	assert.NotEmpty(t, conf.AlertsConfigFile)

	conf.FromEmail = "noreply@tahadhari.test"
	assert.Equal(t, conf.AppName, conf.DefaultFromEmail().Name)
	conf.FromEmail = "Alerts <alerts@tahadhari.test>"
	assert.Equal(t, "Alerts", conf.DefaultFromEmail().Name)
	assert.Equal(t, "alerts@tahadhari.test", conf.DefaultFromEmail().Address)
}

func TestValidators(t *testing.T) {
	validate := validator.New()
	translator, _ := ut.New(en.New()).GetTranslator("en")
	InitValidators(validate, translator)

	type marks struct {
		Assessment string   `json:"assessment" validate:"required,assessment"`
		Marks      *float64 `json:"marks" validate:"omitempty,percentage"`
	}
	pct := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		obj  marks
		want map[string]string
	}{
		{name: "valid", obj: marks{Assessment: "Midterm", Marks: pct(64.5)}},
		{name: "null marks", obj: marks{Assessment: "quiz2"}},
		{
			name: "invalid",
			obj:  marks{Assessment: "final", Marks: pct(101)},
			want: map[string]string{
				"assessment": "assessment must be one of: quiz1, quiz2, assignment1, assignment2, midterm",
				"marks":      "marks must be a percentage between 0 and 100",
			},
		},
		{name: "missing", obj: marks{}, want: map[string]string{"assessment": "this field is required"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.obj)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			var vErrs validator.ValidationErrors
			require.True(t, errors.As(err, &vErrs))
			got := make(map[string]string)
			for _, fe := range vErrs {
				got[fe.Field()] = fe.Translate(translator)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmailMessage_Render(t *testing.T) {
	conf := NewConfig()
	conf.TestMode = true

	msg := EmailMessage{Subject: "hi", BodyStr: "plain body"}
	require.NoError(t, msg.Render(conf))
	assert.Equal(t, "plain body", msg.TextContent)
	assert.Empty(t, msg.HTMLContent)
	assert.False(t, msg.HasRecipients())

	msg = EmailMessage{TemplateName: "nope"}
	assert.Error(t, msg.Render(conf))

	// the alert template extends the underscore-prefixed base layouts
	msg = EmailMessage{
		Subject:      "Critical Attendance Alert",
		TemplateName: "alert",
		TemplateData: map[string]interface{}{
			"Emoji":         "!",
			"Color":         "#dc3545",
			"Title":         "Critical Attendance Alert",
			"RecipientName": "Alice Mwangi",
			"Message":       "Your attendance in Algorithms is critically low at 40%.",
			"SeverityLabel": "Critical",
			"Actions":       []string{"Contact your lecturer"},
		},
	}
	require.NoError(t, msg.Render(conf))
	assert.Contains(t, msg.TextContent, "Hello Alice Mwangi")
	assert.Contains(t, msg.TextContent, "- Contact your lecturer")
	assert.Contains(t, msg.TextContent, conf.AppName)
	assert.Contains(t, msg.HTMLContent, "critically low at 40%")
	assert.Contains(t, msg.HTMLContent, conf.AppName)
	assert.True(t, msg.HasContent())
}
