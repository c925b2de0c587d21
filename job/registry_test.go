package job_test

import (
	"errors"
	"reflect"
	"testing"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/job"
)

type namedJob struct {
	recJob
	name string
}

func (n *namedJob) Name() string { return n.name }

func TestRegistry_RegisterAndNew(t *testing.T) {
	r := job.NewRegistry()
	built := 0
	r.Register("send-sms", func() job.Job {
		built++
		return &namedJob{name: "send-sms"}
	})

	a, err := r.New("send-sms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := r.New("send-sms")
	if a == b {
		t.Error("expected a fresh job per call")
	}
	if built != 2 {
		t.Errorf("factory called %d times, want 2", built)
	}
	if !r.Has("send-sms") || r.Has("other") {
		t.Error("Has reported wrong registration")
	}
}

func TestRegistry_Unknown(t *testing.T) {
	_, err := job.NewRegistry().New("nonexistent")
	if !errors.Is(err, jobmanager.ErrJobNotRegistered) {
		t.Fatalf("err = %v, want ErrJobNotRegistered", err)
	}
}

func TestRegistry_NameMismatch(t *testing.T) {
	r := job.NewRegistry()
	r.Register("a", func() job.Job { return &namedJob{name: "b"} })
	if _, err := r.New("a"); !errors.Is(err, jobmanager.ErrJobNotRegistered) {
		t.Fatalf("err = %v, want ErrJobNotRegistered", err)
	}
}

func TestRegistry_NamesAndOverwrite(t *testing.T) {
	r := job.NewRegistry()
	for _, n := range []string{"job-c", "job-a", "job-b"} {
		name := n
		r.Register(name, func() job.Job { return &namedJob{name: name} })
	}
	r.Register("job-a", func() job.Job { return &namedJob{name: "job-a", recJob: recJob{counter: 9}} })

	if got, want := r.Names(), []string{"job-a", "job-b", "job-c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
	j, err := r.New("job-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.(*namedJob).counter != 9 {
		t.Error("expected the later registration to win")
	}
}
