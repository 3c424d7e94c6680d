package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseOnceSchedule(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	cases := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, got time.Time)
	}{
		{
			name: "rfc3339 with offset",
			raw:  "2026-09-01T10:00:00+08:00",
			check: func(t *testing.T, got time.Time) {
				want := time.Date(2026, 9, 1, 10, 0, 0, 0, loc)
				if !got.Equal(want) {
					t.Fatalf("got %v, want %v", got, want)
				}
			},
		},
		{
			name: "rfc3339 utc",
			raw:  "2026-09-01T02:00:00Z",
			check: func(t *testing.T, got time.Time) {
				want := time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC)
				if !got.Equal(want) {
					t.Fatalf("got %v, want %v", got, want)
				}
			},
		},
		{
			name: "zone-less interpreted in loc",
			raw:  "2026-09-01T10:00:00",
			check: func(t *testing.T, got time.Time) {
				want := time.Date(2026, 9, 1, 10, 0, 0, 0, loc)
				if !got.Equal(want) {
					t.Fatalf("got %v, want %v", got, want)
				}
			},
		},
		{name: "empty", raw: "", wantErr: true},
		{name: "garbage", raw: "tomorrow", wantErr: true},
		{name: "date only", raw: "2026-09-01", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseOnceSchedule(tc.raw, loc)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.check != nil {
				tc.check(t, got)
			}
		})
	}
}

func TestScheduleParserNextFireRespectsTimezone(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	cases := []struct {
		name string
		expr string
		from time.Time
		want time.Time
	}{
		{
			name: "daily 02:00 local",
			expr: "0 2 * * *",
			from: time.Date(2026, 9, 1, 1, 0, 0, 0, shanghai),
			want: time.Date(2026, 9, 1, 2, 0, 0, 0, shanghai),
		},
		{
			name: "daily 02:00 rolls to next day",
			expr: "0 2 * * *",
			from: time.Date(2026, 9, 1, 3, 0, 0, 0, shanghai),
			want: time.Date(2026, 9, 2, 2, 0, 0, 0, shanghai),
		},
		{
			name: "six-field with seconds",
			expr: "30 0 2 * * *",
			from: time.Date(2026, 9, 1, 2, 0, 0, 0, shanghai),
			want: time.Date(2026, 9, 1, 2, 0, 30, 0, shanghai),
		},
		{
			name: "every five minutes",
			expr: "*/5 * * * *",
			from: time.Date(2026, 9, 1, 10, 3, 0, 0, shanghai),
			want: time.Date(2026, 9, 1, 10, 5, 0, 0, shanghai),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sched, err := ScheduleParser.Parse(tc.expr)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.expr, err)
			}
			// The scheduler runs its cron instance with cron.WithLocation, so
			// Next sees wall times already in the configured zone.
			got := sched.Next(tc.from)
			if !got.Equal(tc.want) {
				t.Fatalf("next after %v = %v, want %v", tc.from, got, tc.want)
			}
		})
	}
}

func TestValidateTask(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "backup.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	valid := func() *TaskDefinition {
		return &TaskDefinition{
			Name:     "nightly backup",
			Type:     TaskCron,
			Schedule: "0 2 * * *",
			Script:   script,
			Enabled:  true,
		}
	}

	cases := []struct {
		name     string
		mutate   func(d *TaskDefinition)
		wantErrs int
		wantWarn int
	}{
		{name: "valid cron", mutate: func(d *TaskDefinition) {}},
		{
			name: "valid cron with seconds",
			mutate: func(d *TaskDefinition) {
				d.Schedule = "30 0 2 * * *"
			},
		},
		{
			name: "valid descriptor",
			mutate: func(d *TaskDefinition) {
				d.Schedule = "@hourly"
			},
		},
		{
			name: "valid once",
			mutate: func(d *TaskDefinition) {
				d.Type = TaskOnce
				d.Schedule = "2026-12-31T23:00:00+08:00"
			},
		},
		{
			name:     "missing name",
			mutate:   func(d *TaskDefinition) { d.Name = " " },
			wantErrs: 1,
		},
		{
			name:     "missing schedule",
			mutate:   func(d *TaskDefinition) { d.Schedule = "" },
			wantErrs: 1,
		},
		{
			name:     "missing script",
			mutate:   func(d *TaskDefinition) { d.Script = "" },
			wantErrs: 1,
		},
		{
			name:     "bad cron expression",
			mutate:   func(d *TaskDefinition) { d.Schedule = "not a cron" },
			wantErrs: 1,
		},
		{
			name: "bad once timestamp",
			mutate: func(d *TaskDefinition) {
				d.Type = TaskOnce
				d.Schedule = "soon"
			},
			wantErrs: 1,
		},
		{
			name:     "unknown type",
			mutate:   func(d *TaskDefinition) { d.Type = "interval" },
			wantErrs: 1,
		},
		{
			name:     "missing script file is a warning",
			mutate:   func(d *TaskDefinition) { d.Script = filepath.Join(dir, "nope.sh") },
			wantWarn: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := valid()
			tc.mutate(def)
			got := ValidateTask("t1", def, ValidateOptions{BaseDir: dir})
			if len(got.Errors) != tc.wantErrs {
				t.Fatalf("errors = %v, want %d", got.Errors, tc.wantErrs)
			}
			if len(got.Warnings) != tc.wantWarn {
				t.Fatalf("warnings = %v, want %d", got.Warnings, tc.wantWarn)
			}
		})
	}
}

func TestValidateTaskStrictScript(t *testing.T) {
	def := &TaskDefinition{
		Name:     "x",
		Type:     TaskCron,
		Schedule: "* * * * *",
		Script:   "does-not-exist.sh",
	}
	got := ValidateTask("t1", def, ValidateOptions{StrictScript: true, BaseDir: t.TempDir()})
	if got.OK() {
		t.Fatal("expected a hard error for missing script under StrictScript")
	}
}

func TestResolveScript(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	inBase := filepath.Join(base, "direct.sh")
	inScripts := filepath.Join(base, "scripts", "nested.sh")
	for _, p := range []string{inBase, inScripts} {
		if err := os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		name   string
		script string
		want   string
		ok     bool
	}{
		{name: "absolute", script: inBase, want: inBase, ok: true},
		{name: "relative to base", script: "direct.sh", want: inBase, ok: true},
		{name: "scripts convention", script: "nested.sh", want: inScripts, ok: true},
		{name: "missing", script: "ghost.sh"},
		{name: "empty", script: "  "},
		{name: "directory is not a script", script: "scripts"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveScript(tc.script, base)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v (got path %q)", ok, tc.ok, got)
			}
			if ok && got != tc.want {
				t.Fatalf("path = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidateConfigDuplicateID(t *testing.T) {
	def := &TaskDefinition{
		Name:     "dup",
		Type:     TaskOnce,
		Schedule: "2026-09-01T10:00:00Z",
		Script:   "x.sh",
	}
	doc := &Document{
		Tasks:          map[string]*TaskDefinition{"a": def.Clone()},
		CompletedTasks: map[string]*TaskDefinition{"a": def.Clone()},
	}
	doc.normalize()

	res := ValidateConfig(doc, ValidateOptions{BaseDir: t.TempDir()})
	if res.OK() {
		t.Fatal("expected hard error for id present in both sets")
	}
}

func TestDefinitionDefaults(t *testing.T) {
	d := &TaskDefinition{Name: "x", Type: TaskCron, Schedule: "* * * * *", Script: "x.sh"}
	d.FillDefaults()

	if d.Args == nil || d.Tags == nil {
		t.Fatal("FillDefaults must materialize empty slices")
	}
	if d.TimeoutMS != DefaultTimeout.Milliseconds() {
		t.Fatalf("TimeoutMS = %d, want %d", d.TimeoutMS, DefaultTimeout.Milliseconds())
	}
	if d.Timeout() != DefaultTimeout {
		t.Fatalf("Timeout() = %v, want %v", d.Timeout(), DefaultTimeout)
	}

	d.TimeoutMS = 1500
	if d.Timeout() != 1500*time.Millisecond {
		t.Fatalf("Timeout() = %v, want 1.5s", d.Timeout())
	}
}
