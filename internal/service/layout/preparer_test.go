package layout

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/RubachokBoss/qcm-grader/internal/service/integration"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTool runs fn in place of an external command.
type scriptedTool struct {
	name  string
	fn    func(workDir string, args []string) (*integration.InvokeResult, error)
	calls int
}

func (s *scriptedTool) Name() string { return s.name }

func (s *scriptedTool) Invoke(_ context.Context, workDir string, args ...string) (*integration.InvokeResult, error) {
	s.calls++
	return s.fn(workDir, args)
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0o644))
}

type fakeStore struct {
	descriptor *models.LayoutDescriptor
	err        error
}

func (f *fakeStore) Load(_ context.Context, path string) (*models.LayoutDescriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := *f.descriptor
	d.StorePath = path
	return &d, nil
}

func sampleQuestions() *models.QuestionSet {
	qs := &models.QuestionSet{Questions: []models.Question{
		{Text: "2+2?", Choices: []models.Choice{{Text: "4", Correct: true}, {Text: "5"}}},
		{Text: "Capital of France?", Choices: []models.Choice{{Text: "Lyon"}, {Text: "Paris", Correct: true}}},
	}}
	qs.Normalize()
	return qs
}

func fullDescriptor() *models.LayoutDescriptor {
	return &models.LayoutDescriptor{
		Pages: []models.LayoutPage{{Sheet: 1, Page: 1}, {Sheet: 1, Page: 2}},
		Zones: []models.Zone{
			{Sheet: 1, Page: 1, Question: 1, Answer: 1, Role: models.ZoneRoleAnswer},
			{Sheet: 1, Page: 1, Question: 1, Answer: 2, Role: models.ZoneRoleAnswer},
			{Sheet: 1, Page: 2, Question: 2, Answer: 1, Role: models.ZoneRoleAnswer},
			{Sheet: 1, Page: 2, Question: 2, Answer: 2, Role: models.ZoneRoleAnswer},
		},
		QuestionNames: map[int]string{1: "q1", 2: "q2"},
	}
}

func succeedingCompiler(t *testing.T) *scriptedTool {
	return &scriptedTool{name: "compiler", fn: func(workDir string, _ []string) (*integration.InvokeResult, error) {
		writeFile(t, filepath.Join(workDir, SubjectFileName), 2048)
		writeFile(t, filepath.Join(workDir, CalibrationFileName), 128)
		return &integration.InvokeResult{Command: "auto-multiple-choice prepare"}, nil
	}}
}

func failingCompiler() *scriptedTool {
	return &scriptedTool{name: "compiler", fn: func(string, []string) (*integration.InvokeResult, error) {
		return &integration.InvokeResult{Command: "auto-multiple-choice prepare", ExitCode: 1, Stderr: "! Undefined control sequence."}, nil
	}}
}

func fallbackWriting(t *testing.T, size int) *scriptedTool {
	return &scriptedTool{name: "fallback", fn: func(workDir string, _ []string) (*integration.InvokeResult, error) {
		writeFile(t, filepath.Join(workDir, "questionnaire.pdf"), size)
		return &integration.InvokeResult{Command: "pdflatex questionnaire.tex"}, nil
	}}
}

func okExtractor() *scriptedTool {
	return &scriptedTool{name: "extractor", fn: func(string, []string) (*integration.InvokeResult, error) {
		return &integration.InvokeResult{Command: "auto-multiple-choice meptex"}, nil
	}}
}

func TestPrepareLayout_Primary(t *testing.T) {
	project := models.NewProject("exam", t.TempDir())
	compiler := succeedingCompiler(t)
	fallback := fallbackWriting(t, 4096)
	p := NewPreparer(compiler, fallback, okExtractor(), &fakeStore{descriptor: fullDescriptor()}, Config{}, zerolog.Nop())

	res, err := p.PrepareLayout(context.Background(), project, sampleQuestions(), PrepareOptions{})
	require.NoError(t, err)

	assert.False(t, res.PrintOnly)
	assert.False(t, res.Degraded)
	assert.Equal(t, models.AttemptPrimary, res.Attempt)
	assert.Equal(t, 4, res.Descriptor.ZoneCount())
	assert.Equal(t, 0, fallback.calls)
	assert.FileExists(t, project.SourcePath())
	assert.True(t, p.SourceCurrent(project, sampleQuestions()))

	detail := res.Detail()
	assert.Equal(t, 2, detail.Pages)
	assert.Equal(t, 4, detail.Zones)
}

func TestPrepareLayout_FallbackPrintOnly(t *testing.T) {
	project := models.NewProject("exam", t.TempDir())
	fallback := fallbackWriting(t, 4096)
	extractor := okExtractor()
	p := NewPreparer(failingCompiler(), fallback, extractor, &fakeStore{descriptor: fullDescriptor()}, Config{}, zerolog.Nop())

	res, err := p.PrepareLayout(context.Background(), project, sampleQuestions(), PrepareOptions{})
	require.NoError(t, err)

	assert.True(t, res.PrintOnly)
	assert.Nil(t, res.Descriptor)
	assert.Equal(t, models.AttemptFallback, res.Attempt)
	assert.Equal(t, 2, fallback.calls)
	assert.Equal(t, 0, extractor.calls)
	assert.Equal(t, filepath.Join(project.Root, "questionnaire.pdf"), res.DocumentPath)
}

func TestPrepareLayout_FallbackTooSmall(t *testing.T) {
	project := models.NewProject("exam", t.TempDir())
	p := NewPreparer(failingCompiler(), fallbackWriting(t, 10), okExtractor(), &fakeStore{descriptor: fullDescriptor()}, Config{}, zerolog.Nop())

	res, err := p.PrepareLayout(context.Background(), project, sampleQuestions(), PrepareOptions{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, models.ErrExternalToolFailure)
	assert.Equal(t, models.KindExternalToolFailure, models.KindOf(err))
}

func TestPrepareLayout_MissingOutputsTriggerFallback(t *testing.T) {
	project := models.NewProject("exam", t.TempDir())
	silent := &scriptedTool{name: "compiler", fn: func(string, []string) (*integration.InvokeResult, error) {
		return &integration.InvokeResult{Command: "auto-multiple-choice prepare"}, nil
	}}
	fallback := fallbackWriting(t, 4096)
	p := NewPreparer(silent, fallback, okExtractor(), &fakeStore{descriptor: fullDescriptor()}, Config{}, zerolog.Nop())

	res, err := p.PrepareLayout(context.Background(), project, sampleQuestions(), PrepareOptions{})
	require.NoError(t, err)
	assert.True(t, res.PrintOnly)
	assert.Equal(t, 2, fallback.calls)
}

func TestPrepareLayout_ExtractorFailureHasNoFallback(t *testing.T) {
	project := models.NewProject("exam", t.TempDir())
	fallback := fallbackWriting(t, 4096)
	extractor := &scriptedTool{name: "extractor", fn: func(string, []string) (*integration.InvokeResult, error) {
		return &integration.InvokeResult{Command: "auto-multiple-choice meptex", ExitCode: 2, Stderr: "no calage"}, nil
	}}
	p := NewPreparer(succeedingCompiler(t), fallback, extractor, &fakeStore{descriptor: fullDescriptor()}, Config{}, zerolog.Nop())

	_, err := p.PrepareLayout(context.Background(), project, sampleQuestions(), PrepareOptions{})
	require.Error(t, err)

	var se *models.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.ExitCode)
	assert.Equal(t, "no calage", se.Stderr)
	assert.Equal(t, 0, fallback.calls)
}

func TestPrepareLayout_ZeroZones(t *testing.T) {
	empty := &models.LayoutDescriptor{Pages: []models.LayoutPage{{Sheet: 1, Page: 1}}}

	t.Run("rejected", func(t *testing.T) {
		project := models.NewProject("exam", t.TempDir())
		p := NewPreparer(succeedingCompiler(t), fallbackWriting(t, 4096), okExtractor(), &fakeStore{descriptor: empty}, Config{}, zerolog.Nop())

		res, err := p.PrepareLayout(context.Background(), project, sampleQuestions(), PrepareOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrLayoutInvalid)
		assert.Equal(t, models.KindLayoutInvalid, models.KindOf(err))
		require.NotNil(t, res)
		assert.Equal(t, 0, res.Descriptor.ZoneCount())
	})

	t.Run("accepted as degraded", func(t *testing.T) {
		project := models.NewProject("exam", t.TempDir())
		p := NewPreparer(succeedingCompiler(t), fallbackWriting(t, 4096), okExtractor(), &fakeStore{descriptor: empty}, Config{}, zerolog.Nop())

		res, err := p.PrepareLayout(context.Background(), project, sampleQuestions(), PrepareOptions{AcceptDegraded: true})
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.False(t, res.Descriptor.Valid())
		assert.NotEmpty(t, res.Warnings)
	})
}

func TestPrepareLayout_UncoveredQuestion(t *testing.T) {
	d := fullDescriptor()
	d.Zones = d.Zones[:2]
	project := models.NewProject("exam", t.TempDir())
	p := NewPreparer(succeedingCompiler(t), fallbackWriting(t, 4096), okExtractor(), &fakeStore{descriptor: d}, Config{}, zerolog.Nop())

	_, err := p.PrepareLayout(context.Background(), project, sampleQuestions(), PrepareOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question q2 has no answer zone")
}

func TestPrepareLayout_PageBudgetWarns(t *testing.T) {
	project := models.NewProject("exam", t.TempDir())
	p := NewPreparer(succeedingCompiler(t), fallbackWriting(t, 4096), okExtractor(), &fakeStore{descriptor: fullDescriptor()}, Config{}, zerolog.Nop())

	res, err := p.PrepareLayout(context.Background(), project, sampleQuestions(), PrepareOptions{PageBudget: 1})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "budget is 1")
}

func TestReset_PurgesByproducts(t *testing.T) {
	project := models.NewProject("exam", t.TempDir())
	for _, name := range []string{SubjectFileName, CalibrationFileName, "questionnaire.aux", "questionnaire.log", "questionnaire.pdf"} {
		writeFile(t, filepath.Join(project.Root, name), 10)
	}
	writeFile(t, project.LayoutStorePath(), 10)
	writeFile(t, project.SourcePath(), 10)

	p := NewPreparer(failingCompiler(), failingCompiler(), okExtractor(), &fakeStore{}, Config{}, zerolog.Nop())
	require.NoError(t, p.Reset(project))

	entries, err := os.ReadDir(project.Root)
	require.NoError(t, err)
	var left []string
	for _, e := range entries {
		if !e.IsDir() {
			left = append(left, e.Name())
		}
	}
	assert.Equal(t, []string{models.SourceFileName}, left)
	assert.NoFileExists(t, project.LayoutStorePath())
}

func TestLoadExisting(t *testing.T) {
	project := models.NewProject("exam", t.TempDir())

	p := NewPreparer(failingCompiler(), failingCompiler(), okExtractor(), &fakeStore{err: ErrStoreMissing}, Config{}, zerolog.Nop())
	d, err := p.LoadExisting(context.Background(), project)
	require.NoError(t, err)
	assert.Nil(t, d)

	p = NewPreparer(failingCompiler(), failingCompiler(), okExtractor(), &fakeStore{descriptor: fullDescriptor()}, Config{}, zerolog.Nop())
	d, err = p.LoadExisting(context.Background(), project)
	require.NoError(t, err)
	assert.True(t, d.Valid())
}

func TestRenderSource(t *testing.T) {
	qs := &models.QuestionSet{Title: "Maths & co", Questions: []models.Question{
		{ID: "q 1", Text: "50% of 10?", Choices: []models.Choice{{Text: "5", Correct: true}, {Text: "$2"}}},
		{ID: "q2", Text: "Even numbers", Choices: []models.Choice{{Text: "2", Correct: true}, {Text: "4", Correct: true}, {Text: "3"}}},
	}}

	src, err := RenderSource(qs)
	require.NoError(t, err)
	out := string(src)

	assert.Contains(t, out, `Maths \& co`)
	assert.Contains(t, out, `\begin{question}{q-1}`)
	assert.Contains(t, out, `\begin{questionmult}{q2}`)
	assert.Contains(t, out, `50\% of 10?`)
	assert.Contains(t, out, `\correctchoice{5}`)
	assert.Contains(t, out, `\wrongchoice{\$2}`)
	assert.Contains(t, out, `\AMCcodeGridInt[h]{etu}{3}`)
	assert.Contains(t, out, "Noircissez complètement les cases")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), `\end{document}`))

	_, err = RenderSource(&models.QuestionSet{})
	assert.ErrorIs(t, err, models.ErrQuestionSetMissing)
}
