package vm_test

import (
	"errors"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/jolt/vm"
	"github.com/chazu/jolt/vm/fixtures"
)

func loadFixture(t *testing.T, cfg vm.Config, def *vm.UnitDef) *vm.VM {
	t.Helper()
	v := vm.New(cfg)
	if _, err := v.Load(def); err != nil {
		t.Fatalf("Load(%s): %v", def.Name, err)
	}
	return v
}

func TestMakeJVMEntryPoints(t *testing.T) {
	tests := []struct {
		sig  string
		want vm.Value
	}{
		{"start:()I", vm.Int(55)},
		{"start2:()I", vm.Int(110)},
		{"start3:()Z", vm.True},
	}
	for _, tt := range tests {
		t.Run(tt.sig, func(t *testing.T) {
			v := loadFixture(t, vm.DefaultConfig(), fixtures.MakeJVM())
			sig, err := vm.ParseSignature(tt.sig)
			if err != nil {
				t.Fatal(err)
			}
			got, err := v.Invoke("MakeJVM", sig.Name, sig.Descriptor)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("%s = %v, want %v", tt.sig, got, tt.want)
			}
		})
	}
}

func TestComputeWrapsAround(t *testing.T) {
	v := loadFixture(t, vm.DefaultConfig(), fixtures.MakeJVM())
	tests := []struct{ n, want int32 }{
		{0, 0},
		{1, 1},
		{100, 5050},
		{65535, 2147450880},
		{65536, -2147450880},
	}
	for _, tt := range tests {
		got, err := v.Invoke("MakeJVM", "compute", "(I)I", vm.Int(tt.n))
		if err != nil {
			t.Fatal(err)
		}
		if got.Int() != tt.want {
			t.Errorf("compute(%d) = %d, want %d", tt.n, got.Int(), tt.want)
		}
	}
}

func TestParity(t *testing.T) {
	v := loadFixture(t, vm.DefaultConfig(), fixtures.MakeJVM())
	for n := int32(0); n <= 100; n++ {
		even, err := v.Invoke("MakeJVM", "isEven", "(I)Z", vm.Int(n))
		if err != nil {
			t.Fatal(err)
		}
		odd, err := v.Invoke("MakeJVM", "isOdd", "(I)Z", vm.Int(n))
		if err != nil {
			t.Fatal(err)
		}
		if even.Kind() != vm.KindBool || even.Bool() != (n%2 == 0) {
			t.Errorf("isEven(%d) = %v", n, even)
		}
		if odd.Kind() != vm.KindBool || odd.Bool() != (n%2 == 1) {
			t.Errorf("isOdd(%d) = %v", n, odd)
		}
	}
}

func TestParityDepthIsExact(t *testing.T) {
	tests := []struct {
		limit int
		ok    bool
	}{
		{50, true},
		{49, false},
	}
	for _, tt := range tests {
		cfg := vm.DefaultConfig()
		cfg.MaxCallDepth = tt.limit
		v := loadFixture(t, cfg, fixtures.MakeJVM())
		th := v.NewThread()
		got, err := th.Invoke("MakeJVM", "isEven", "(I)Z", vm.Int(50))
		if !tt.ok {
			if !errors.Is(err, vm.ErrCallDepthExceeded) {
				t.Errorf("limit %d: err = %v, want CallDepthExceeded", tt.limit, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("limit %d: %v", tt.limit, err)
		}
		if !got.Bool() {
			t.Errorf("isEven(50) = %v", got)
		}
		if th.PeakDepth() != 50 {
			t.Errorf("PeakDepth = %d, want 50", th.PeakDepth())
		}
	}
}

func TestParityOverflowsDefaultDepth(t *testing.T) {
	v := loadFixture(t, vm.DefaultConfig(), fixtures.MakeJVM())
	th := v.NewThread()
	_, err := th.Invoke("MakeJVM", "isEven", "(I)Z", vm.Int(100_000))
	if !errors.Is(err, vm.ErrCallDepthExceeded) {
		t.Fatalf("err = %v, want CallDepthExceeded", err)
	}
	if th.Depth() != 0 {
		t.Errorf("frames left after overflow: %d", th.Depth())
	}

	// The thread stays usable after the fault.
	got, err := th.Invoke("MakeJVM", "start3", "()Z")
	if err != nil || !got.Bool() {
		t.Errorf("start3 after overflow = %v, %v", got, err)
	}
}

func TestStaticFieldsSample(t *testing.T) {
	v := loadFixture(t, vm.DefaultConfig(), fixtures.StaticFieldsSample())
	c, _ := v.Class("StaticFieldsSample")

	got, err := v.Invoke("StaticFieldsSample", "start", "()I")
	if err != nil {
		t.Fatal(err)
	}
	if got.Int() != 425276 {
		t.Fatalf("start = %d, want 425276", got.Int())
	}

	want := map[string]int32{"fooCount": 10, "barCount": 1024, "ANSWER": 424242}
	for name, w := range want {
		val, ok := v.Statics().Lookup(c, name)
		if !ok || val.Int() != w {
			t.Errorf("%s = %v, want %d", name, val, w)
		}
	}

	// Statics persist between invocations.
	got, err = v.Invoke("StaticFieldsSample", "start", "()I")
	if err != nil {
		t.Fatal(err)
	}
	if got.Int() != 1472838 {
		t.Errorf("second start = %d, want 1472838", got.Int())
	}
}

func TestStaticFieldsSampleConstantsAreStable(t *testing.T) {
	v := loadFixture(t, vm.DefaultConfig(), fixtures.StaticFieldsSample())
	c, _ := v.Class("StaticFieldsSample")
	before, err := c.Pool.Integer(2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := v.Invoke("StaticFieldsSample", "start", "()I"); err != nil {
			t.Fatal(err)
		}
	}
	after, _ := c.Pool.Integer(2)
	if before != 424242 || after != before {
		t.Errorf("constant #2 = %d then %d", before, after)
	}
}

func TestFixturesThroughSource(t *testing.T) {
	cfg := vm.DefaultConfig()
	cfg.Source = fixtures.Source()
	v := vm.New(cfg)

	got, err := v.Invoke("StaticFieldsSample", "start", "()I")
	if err != nil {
		t.Fatal(err)
	}
	if got.Int() != 425276 {
		t.Errorf("start = %d, want 425276", got.Int())
	}
	if names := fixtures.Names(); len(names) != 2 {
		t.Errorf("Names() = %v", names)
	}
}

func TestConcurrentEntryPoints(t *testing.T) {
	cfg := vm.DefaultConfig()
	cfg.Source = fixtures.Source()
	v := vm.New(cfg)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			got, err := v.Invoke("MakeJVM", "start3", "()Z")
			if err != nil {
				return err
			}
			if !got.Bool() {
				return errors.New("start3 returned false")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
