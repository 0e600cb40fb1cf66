// Package lesson loads lesson content, grades learner programs against a
// lesson step and signs completion receipts.
package lesson

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/antibyte/emojivm/pkg/logger"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/validator"
)

var (
	ErrInvalidLesson = errors.New("invalid lesson")
	ErrUnknownStep   = errors.New("unknown lesson step")
)

// schemaSource constrains lesson files. Both structs stay open so content
// written for a newer schema still loads.
const schemaSource = `
#Int32: int & >=-2147483648 & <=2147483647

#Limits: {
	maxCycles?:      int & >0
	maxStackDepth?:  int & >0
	maxOutputLines?: int & >0
}

#Step: {
	id:             string & !=""
	title?:         string
	instructions?:  string
	starterSource?: string
	expectedOutput: [...string]
	inputs?: [...#Int32]
	limits?: #Limits
	...
}

#Lesson: {
	schemaVersion: int | *1
	id:            string & !=""
	title:         string | *""
	description?:  string
	steps: [#Step, ...#Step]
	...
}
`

// Loader reads lessons written in CUE or JSON.
type Loader struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewLoader compiles the lesson schema.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("lesson.cue")).
		LookupPath(cue.ParsePath("#Lesson"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("lesson schema: %w", err)
	}
	return &Loader{ctx: ctx, schema: schema}, nil
}

// Load checks data against the schema and the lesson validator. The lesson
// is nil whenever the report holds errors.
func (l *Loader) Load(name string, data []byte) (*shared.LessonRecord, validator.Report) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var r validator.Report
	value := l.ctx.CompileBytes(data, cue.Filename(name))
	if err := value.Err(); err != nil {
		addCueErrors(&r, err)
		logger.Warn(logger.AreaLesson, "%s does not compile: %v", name, err)
		return nil, r
	}

	unified := l.schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		addCueErrors(&r, err)
		logger.Warn(logger.AreaLesson, "%s violates the lesson schema: %v", name, err)
		return nil, r
	}

	var rec shared.LessonRecord
	if err := unified.Decode(&rec); err != nil {
		addCueErrors(&r, err)
		return nil, r
	}

	r.Merge("", validator.ValidateLesson(&rec))
	if !r.OK() {
		return nil, r
	}
	logger.Info(logger.AreaLesson, "lesson %s loaded from %s: %d steps, %d warnings",
		rec.ID, name, len(rec.Steps), len(r.Warnings()))
	return &rec, r
}

// LoadFile reads and loads one lesson file.
func (l *Loader) LoadFile(path string) (*shared.LessonRecord, validator.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, validator.Report{}, err
	}
	rec, r := l.Load(path, data)
	if rec == nil {
		return nil, r, fmt.Errorf("%w: %s: %v", ErrInvalidLesson, path, r.Err())
	}
	return rec, r, nil
}

// LoadDir loads every *.cue and *.json file in dir, ordered by file name.
// Invalid files and duplicate lesson ids are logged and skipped.
func (l *Loader) LoadDir(dir string) ([]*shared.LessonRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".cue" || ext == ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string)
	var lessons []*shared.LessonRecord
	for _, name := range names {
		path := filepath.Join(dir, name)
		rec, _, err := l.LoadFile(path)
		if err != nil {
			logger.Warn(logger.AreaLesson, "skipping %s: %v", path, err)
			continue
		}
		if first, dup := seen[rec.ID]; dup {
			logger.Warn(logger.AreaLesson, "skipping %s: lesson %s already loaded from %s", path, rec.ID, first)
			continue
		}
		seen[rec.ID] = path
		lessons = append(lessons, rec)
	}
	return lessons, nil
}

func addCueErrors(r *validator.Report, err error) {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		r.Add(validator.Diagnostic{Code: validator.CodeSchema, Message: err.Error(), Severity: validator.SeverityError})
		return
	}
	for _, e := range errs {
		format, args := e.Msg()
		r.Add(validator.Diagnostic{
			Code:     validator.CodeSchema,
			Path:     cuePath(e.Path()),
			Message:  fmt.Sprintf(format, args...),
			Severity: validator.SeverityError,
		})
	}
}

// cuePath renders ["steps", "0", "id"] as "steps[0].id".
func cuePath(sel []string) string {
	var b strings.Builder
	for _, s := range sel {
		if strings.HasPrefix(s, "#") {
			continue
		}
		if _, err := strconv.Atoi(s); err == nil {
			b.WriteString("[" + s + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s)
	}
	return b.String()
}
