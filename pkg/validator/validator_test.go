package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
)

type fakeGen struct {
	responses []string
	calls     int
}

func (f *fakeGen) Generate(ctx context.Context, req *llms.Request, opts llms.CallOptions) (*llms.Response, error) {
	f.calls++
	i := f.calls - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return &llms.Response{Content: f.responses[i]}, nil
}

func newBuiltinValidator(llm Generator) *Validator {
	cfg := &config.ValidationConfig{UseRuff: config.BoolPtr(false)}
	cfg.SetDefaults()
	cfg.UseRuff = config.BoolPtr(false)
	return New(cfg, llm)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"python", "import os\n\ndef main():\n    print(os.getcwd())", "python"},
		{"javascript", "const x = 1;\nfunction go() { console.log(x); }", "javascript"},
		{"typescript", "interface User { name: string }\nconst u: string = 'x';", "typescript"},
		{"go", "package main\n\nfunc main() {\n\tx := 1\n}", "go"},
		{"empty", "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.code))
		})
	}
}

func TestPythonSyntaxScanner(t *testing.T) {
	v := newBuiltinValidator(nil)
	ctx := context.Background()

	valid := "def add(a, b):\n    return a + b\n"
	result := v.Validate(ctx, valid, "python", false, "")
	assert.True(t, result.IsValid)

	missingColon := "def add(a, b)\n    return a + b\n"
	result = v.Validate(ctx, missingColon, "python", false, "")
	require.False(t, result.IsValid)
	assert.Equal(t, "E999", result.Issues[0].Code)

	unbalanced := "def add(a, b):\n    return (a + b\n"
	result = v.Validate(ctx, unbalanced, "python", false, "")
	assert.False(t, result.IsValid)
}

func TestPythonQualityRules(t *testing.T) {
	v := newBuiltinValidator(nil)
	result := v.Validate(context.Background(),
		"def run(x):\n    if x == None:\n        return eval(x)\n", "python", false, "")

	require.False(t, result.IsValid)
	codes := make(map[string]bool)
	for _, issue := range result.Issues {
		codes[issue.Code] = true
	}
	assert.True(t, codes["E711"])
	assert.True(t, codes["S307"])
	assert.Equal(t, 1, result.ErrorCount)
}

func TestPythonBracketsIgnoreStrings(t *testing.T) {
	v := newBuiltinValidator(nil)
	code := "def show():\n    print(\"a ( b [ c\")\n"
	result := v.Validate(context.Background(), code, "python", false, "")
	assert.True(t, result.IsValid)
}

func TestJavaScriptChecks(t *testing.T) {
	v := newBuiltinValidator(nil)
	ctx := context.Background()

	result := v.Validate(ctx, "const f = (a) => a * 2;", "javascript", false, "")
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Issues)

	result = v.Validate(ctx, "var x = 1;\nif (x == '1') { console.log(x); }", "javascript", false, "")
	assert.True(t, result.IsValid, "quality findings are warnings")
	assert.Equal(t, 3, result.WarningCount)

	result = v.Validate(ctx, "function f() { return 1; ", "javascript", false, "")
	assert.False(t, result.IsValid)
}

func TestSyntaxRepair(t *testing.T) {
	gen := &fakeGen{responses: []string{
		"Here is the fix:\n```python\ndef add(a, b):\n    return a + b\n```",
	}}
	v := newBuiltinValidator(gen)

	broken := "def add(a, b)\n    return a + b\n"
	result := v.Validate(context.Background(), broken, "python", true, "implement add")

	require.True(t, result.IsValid)
	assert.Equal(t, 1, gen.calls)
	assert.Contains(t, result.FixedCode, "def add(a, b):")
}

func TestRepairAttemptsBounded(t *testing.T) {
	// The model keeps returning code with an error-severity finding.
	gen := &fakeGen{responses: []string{
		"```python\ndef run(x):\n    return eval(x)  # still bad\n```",
	}}
	cfg := &config.ValidationConfig{UseRuff: config.BoolPtr(false), MaxFixAttempts: 2}
	cfg.SetDefaults()
	cfg.UseRuff = config.BoolPtr(false)
	v := New(cfg, gen)

	result := v.Validate(context.Background(), "def run(x):\n    return exec(x)\n", "python", true, "")
	assert.False(t, result.IsValid)
	assert.LessOrEqual(t, gen.calls, 2)
}

func TestExtractCode(t *testing.T) {
	text := "Intro.\n```js\nconsole.log(1)\n```\nMore.\n```python\ndef big():\n    pass\n```"

	assert.Equal(t, "def big():\n    pass", ExtractCode(text, "python"))
	assert.Equal(t, "console.log(1)", ExtractCode(text, "javascript"))
	// No preferred match: largest block wins.
	assert.Equal(t, "def big():\n    pass", ExtractCode(text, "rust"))
	assert.Equal(t, "no fences here", ExtractCode("no fences here", "python"))
}
