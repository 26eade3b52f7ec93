package guard

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

type stubStage struct {
	name    string
	order   int
	enabled bool
	result  Result
	err     error
	calls   *[]string
}

func (s *stubStage) Name() string  { return s.name }
func (s *stubStage) Order() int    { return s.order }
func (s *stubStage) Enabled() bool { return s.enabled }

func (s *stubStage) Check(context.Context, Command) (Result, error) {
	*s.calls = append(*s.calls, s.name)
	return s.result, s.err
}

func stub(calls *[]string, name string, order int, res Result) *stubStage {
	return &stubStage{name: name, order: order, enabled: true, result: res, calls: calls}
}

func mustPipeline(t *testing.T, stages ...Stage) *Pipeline {
	t.Helper()
	p, err := NewPipeline(stages, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestGuard_StopsAtFirstRejection(t *testing.T) {
	var calls []string
	p := mustPipeline(t,
		stub(&calls, "InjectionDetection", 3, Allowed{}),
		stub(&calls, "RateLimit", 1, Allowed{}),
		stub(&calls, "InputValidation", 2, Rejected{Reason: "too long", Category: InvalidInput}),
	)

	res := p.Guard(context.Background(), Command{UserID: "u", Text: "hi"})
	want := Rejected{Reason: "too long", Category: InvalidInput, Stage: "InputValidation"}
	if !reflect.DeepEqual(res, want) {
		t.Fatalf("expected %+v, got %+v", want, res)
	}
	if !reflect.DeepEqual(calls, []string{"RateLimit", "InputValidation"}) {
		t.Errorf("expected InjectionDetection never to run, calls: %v", calls)
	}
}

func TestGuard_NeverRunsStagesAfterRejection(t *testing.T) {
	for rejectAt := 1; rejectAt <= 5; rejectAt++ {
		t.Run(fmt.Sprintf("reject_at_%d", rejectAt), func(t *testing.T) {
			var calls []string
			var stages []Stage
			for order := 1; order <= 5; order++ {
				var res Result = Allowed{}
				if order == rejectAt {
					res = Rejected{Reason: "no", Category: Unauthorized}
				}
				stages = append(stages, stub(&calls, fmt.Sprintf("s%d", order), order, res))
			}
			p := mustPipeline(t, stages...)
			if _, ok := p.Guard(context.Background(), Command{}).(Rejected); !ok {
				t.Fatal("expected rejection")
			}
			if len(calls) != rejectAt {
				t.Errorf("expected %d stages to run, got %v", rejectAt, calls)
			}
		})
	}
}

func TestGuard_ConcatenatesHintsInOrder(t *testing.T) {
	var calls []string
	p := mustPipeline(t,
		stub(&calls, "c", 4, Allowed{Hints: []string{"topic:billing"}}),
		stub(&calls, "a", 1, Allowed{Hints: []string{"h1", "h2"}}),
		stub(&calls, "b", 2, Allowed{}),
		stub(&calls, "d", 4, Allowed{Hints: []string{"zzz"}}),
	)

	res := p.Guard(context.Background(), Command{Text: "x"})
	allowed, ok := res.(Allowed)
	if !ok {
		t.Fatalf("expected Allowed, got %#v", res)
	}
	want := []string{"h1", "h2", "topic:billing", "zzz"}
	if !reflect.DeepEqual(allowed.Hints, want) {
		t.Errorf("expected hints %v, got %v", want, allowed.Hints)
	}
}

func TestGuard_SkipsDisabledStages(t *testing.T) {
	var calls []string
	off := stub(&calls, "off", 1, Rejected{Reason: "never", Category: OffTopic})
	off.enabled = false
	p := mustPipeline(t, off, stub(&calls, "on", 2, Allowed{}))

	if _, ok := p.Guard(context.Background(), Command{}).(Allowed); !ok {
		t.Fatal("expected Allowed when the rejecting stage is disabled")
	}
	if !reflect.DeepEqual(calls, []string{"on"}) {
		t.Errorf("expected only enabled stage, got %v", calls)
	}
}

func TestGuard_StageErrorIsSystemError(t *testing.T) {
	var calls []string
	failing := stub(&calls, "Broken", 1, nil)
	failing.err = errors.New("db down")
	p := mustPipeline(t, failing, stub(&calls, "Later", 2, Allowed{}))

	res, ok := p.Guard(context.Background(), Command{}).(Rejected)
	if !ok {
		t.Fatal("expected Rejected")
	}
	if res.Category != SystemError || res.Stage != "Broken" {
		t.Errorf("expected SYSTEM_ERROR from Broken, got %+v", res)
	}
	if len(calls) != 1 {
		t.Errorf("expected pipeline to stop, got %v", calls)
	}
}

func TestGuard_StagePanicIsSystemError(t *testing.T) {
	p := mustPipeline(t, NewStage("Panicky", 1, func(context.Context, Command) (Result, error) {
		panic("boom")
	}))

	res, ok := p.Guard(context.Background(), Command{}).(Rejected)
	if !ok || res.Category != SystemError || res.Stage != "Panicky" {
		t.Fatalf("expected SYSTEM_ERROR from Panicky, got %#v", res)
	}
}

func TestGuard_NilResultIsSystemError(t *testing.T) {
	var calls []string
	p := mustPipeline(t, stub(&calls, "Empty", 1, nil))
	res, ok := p.Guard(context.Background(), Command{}).(Rejected)
	if !ok || res.Category != SystemError {
		t.Fatalf("expected SYSTEM_ERROR, got %#v", res)
	}
}

func TestGuard_CanceledContext(t *testing.T) {
	var calls []string
	p := mustPipeline(t, stub(&calls, "s", 1, Allowed{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, ok := p.Guard(ctx, Command{}).(Rejected)
	if !ok || res.Category != SystemError {
		t.Fatalf("expected SYSTEM_ERROR on cancel, got %#v", res)
	}
	if len(calls) != 0 {
		t.Errorf("expected no stage to run, got %v", calls)
	}
}

func TestGuard_StagesSeeOriginalCommand(t *testing.T) {
	var seen []string
	mutate := NewStage("Mutate", 1, func(_ context.Context, cmd Command) (Result, error) {
		cmd.Metadata["role"] = "admin"
		return Allowed{Hints: []string{"x"}}, nil
	})
	observe := NewStage("Observe", 2, func(_ context.Context, cmd Command) (Result, error) {
		seen = append(seen, cmd.Metadata["role"])
		return Allowed{}, nil
	})
	p := mustPipeline(t, mutate, observe)

	cmd := Command{Text: "hi", Metadata: map[string]string{"role": "user"}}
	p.Guard(context.Background(), cmd)
	if len(seen) != 1 || seen[0] != "user" {
		t.Errorf("expected later stage to see original metadata, got %v", seen)
	}
	if cmd.Metadata["role"] != "user" {
		t.Errorf("expected caller command untouched, got %v", cmd.Metadata)
	}
}

func TestNewPipeline_DuplicateNames(t *testing.T) {
	var calls []string
	_, err := NewPipeline([]Stage{stub(&calls, "x", 1, Allowed{}), stub(&calls, "x", 2, Allowed{})}, nil, nil)
	if err == nil {
		t.Fatal("expected error for duplicate stage names")
	}
}

func TestNewPipeline_TieBreakByName(t *testing.T) {
	var calls []string
	p := mustPipeline(t,
		stub(&calls, "zulu", 3, Allowed{}),
		stub(&calls, "alpha", 3, Allowed{}),
		stub(&calls, "mike", 3, Allowed{}),
	)
	p.Guard(context.Background(), Command{})
	if !reflect.DeepEqual(calls, []string{"alpha", "mike", "zulu"}) {
		t.Errorf("expected name order for equal orders, got %v", calls)
	}
}
