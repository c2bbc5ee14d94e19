package nn

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
)

func randomBatch(rng *rand.Rand, batch, steps, width int) Seq {
	x := NewSeq(batch, steps, width)
	for b := range x {
		for t := range x[b] {
			for j := range x[b][t] {
				x[b][t][j] = rng.Float64()*2 - 1
			}
		}
	}
	return x
}

func targetsFor(batch, classes int) [][]float64 {
	y := make([][]float64, batch)
	for b := range y {
		y[b] = OneHot(b%classes, classes)
	}
	return y
}

func lossOf(t *testing.T, n *Network, x Seq, y [][]float64) float64 {
	t.Helper()
	probs, _, err := n.Forward(x, true)
	if err != nil {
		t.Fatal(err)
	}
	loss, _ := CrossEntropy(probs, y)
	return loss
}

// checkGradients compares backprop gradients with central differences for
// every trainable scalar.
func checkGradients(t *testing.T, specs []Spec) {
	t.Helper()
	const steps, width, batch, h = 4, 3, 3, 1e-5

	n, err := Build(steps, width, specs, 7)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	rng := rand.New(rand.NewPCG(1, 2))
	x := randomBatch(rng, batch, steps, width)
	y := targetsFor(batch, n.Outputs())

	n.ZeroGrad()
	probs, caches, err := n.Forward(x, true)
	if err != nil {
		t.Fatal(err)
	}
	_, grad := CrossEntropy(probs, y)
	n.Backward(caches, grad)

	for _, p := range n.Params() {
		if !p.Trainable {
			continue
		}
		for i := range p.Value {
			orig := p.Value[i]
			p.Value[i] = orig + h
			plus := lossOf(t, n, x, y)
			p.Value[i] = orig - h
			minus := lossOf(t, n, x, y)
			p.Value[i] = orig

			numeric := (plus - minus) / (2 * h)
			analytic := p.Grad[i]
			diff := math.Abs(numeric - analytic)
			if diff > 1e-7+1e-4*math.Max(math.Abs(numeric), math.Abs(analytic)) {
				t.Fatalf("%s[%d]: analytic %g numeric %g", p.Name, i, analytic, numeric)
			}
		}
	}
}

func TestGradients(t *testing.T) {
	t.Run("bidirectional sequences into last step", func(t *testing.T) {
		checkGradients(t, []Spec{
			{Kind: KindBidirectional, Units: 2, ReturnSequences: true},
			{Kind: KindBatchNorm},
			{Kind: KindLSTM, Units: 3},
			{Kind: KindBatchNorm},
			{Kind: KindDense, Units: 4, Activation: Linear},
			{Kind: KindDense, Units: 3, Activation: Softmax},
		})
	})

	t.Run("lstm sequences into bidirectional last step", func(t *testing.T) {
		checkGradients(t, []Spec{
			{Kind: KindLSTM, Units: 3, ReturnSequences: true},
			{Kind: KindBidirectional, Units: 2},
			{Kind: KindDense, Units: 2, Activation: Softmax},
		})
	})
}

func TestBuild(t *testing.T) {
	t.Run("rejects sequence output", func(t *testing.T) {
		_, err := Build(5, 2, []Spec{{Kind: KindLSTM, Units: 2, ReturnSequences: true}}, 1)
		if !errors.Is(err, ErrShape) {
			t.Errorf("expected ErrShape, got %v", err)
		}
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		if _, err := Build(5, 2, []Spec{{Kind: "conv"}}, 1); err == nil {
			t.Error("expected error for unknown layer")
		}
		if _, err := Build(5, 2, []Spec{{Kind: KindLSTM, Units: 2}, {Kind: KindDense, Units: 2, Activation: "gelu"}}, 1); err == nil {
			t.Error("expected error for unknown activation")
		}
		if _, err := Build(5, 2, []Spec{{Kind: KindLSTM, Units: 2}, {Kind: KindDropout, Rate: 1}}, 1); err == nil {
			t.Error("expected error for dropout rate 1")
		}
	})

	t.Run("same seed same weights", func(t *testing.T) {
		specs := []Spec{{Kind: KindLSTM, Units: 2}, {Kind: KindDense, Units: 2, Activation: Softmax}}
		a, _ := Build(3, 2, specs, 11)
		b, _ := Build(3, 2, specs, 11)
		for name, v := range a.Snapshot() {
			w := b.Snapshot()[name]
			for i := range v {
				if v[i] != w[i] {
					t.Fatalf("%s differs between identical builds", name)
				}
			}
		}
	})

	t.Run("forget bias starts at one", func(t *testing.T) {
		n, _ := Build(3, 2, []Spec{{Kind: KindLSTM, Units: 2}}, 1)
		bias := n.Snapshot()["layer_0/bias"]
		want := []float64{0, 0, 1, 1, 0, 0, 0, 0}
		for i := range want {
			if bias[i] != want[i] {
				t.Fatalf("bias = %v, want %v", bias, want)
			}
		}
	})

	t.Run("recurrent kernel has orthonormal columns", func(t *testing.T) {
		n, _ := Build(3, 2, []Spec{{Kind: KindLSTM, Units: 3}}, 5)
		u := n.Snapshot()["layer_0/recurrent_kernel"]
		rows, cols := 12, 3
		for a := range cols {
			for b := range cols {
				dot := 0.0
				for r := range rows {
					dot += u[r*cols+a] * u[r*cols+b]
				}
				want := 0.0
				if a == b {
					want = 1
				}
				if math.Abs(dot-want) > 1e-9 {
					t.Fatalf("columns %d,%d dot = %f", a, b, dot)
				}
			}
		}
	})
}

func TestForwardShapes(t *testing.T) {
	n, err := Build(6, 4, []Spec{
		{Kind: KindBidirectional, Units: 3, ReturnSequences: true},
		{Kind: KindDropout, Rate: 0.3},
		{Kind: KindLSTM, Units: 2},
		{Kind: KindDense, Units: 5, Activation: Softmax},
	}, 3)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewPCG(3, 4))
	probs, err := n.Predict(randomBatch(rng, 2, 6, 4))
	if err != nil {
		t.Fatal(err)
	}
	if len(probs) != 2 || len(probs[0]) != 5 {
		t.Fatalf("unexpected output shape %dx%d", len(probs), len(probs[0]))
	}
	for _, row := range probs {
		sum := 0.0
		for _, p := range row {
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("probabilities sum to %f", sum)
		}
	}

	t.Run("rejects wrong input", func(t *testing.T) {
		if _, err := n.Predict(randomBatch(rng, 1, 5, 4)); !errors.Is(err, ErrShape) {
			t.Errorf("expected ErrShape for wrong steps, got %v", err)
		}
		if _, err := n.Predict(randomBatch(rng, 1, 6, 3)); !errors.Is(err, ErrShape) {
			t.Errorf("expected ErrShape for wrong width, got %v", err)
		}
		if _, err := n.Predict(nil); !errors.Is(err, ErrShape) {
			t.Errorf("expected ErrShape for empty batch, got %v", err)
		}
	})
}

func TestPredictIsReadOnly(t *testing.T) {
	n, err := Build(5, 3, []Spec{
		{Kind: KindLSTM, Units: 4, ReturnSequences: true},
		{Kind: KindBatchNorm},
		{Kind: KindDropout, Rate: 0.5},
		{Kind: KindLSTM, Units: 3},
		{Kind: KindDense, Units: 2, Activation: Softmax},
	}, 9)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewPCG(5, 6))
	x := randomBatch(rng, 1, 5, 3)

	before := n.Snapshot()
	want, err := n.Predict(x)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := n.Predict(x)
			if err != nil {
				errs <- err.Error()
				return
			}
			for j := range got[0] {
				if got[0][j] != want[0][j] {
					errs <- "prediction changed between calls"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}

	after := n.Snapshot()
	for name, v := range before {
		for i := range v {
			if after[name][i] != v[i] {
				t.Fatalf("%s modified by inference", name)
			}
		}
	}
}

func TestSnapshotRestore(t *testing.T) {
	specs := []Spec{{Kind: KindLSTM, Units: 2}, {Kind: KindBatchNorm}, {Kind: KindDense, Units: 2, Activation: Softmax}}
	a, _ := Build(3, 2, specs, 1)
	b, _ := Build(3, 2, specs, 2)

	if err := b.Restore(a.Snapshot()); err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewPCG(7, 8))
	x := randomBatch(rng, 2, 3, 2)
	pa, _ := a.Predict(x)
	pb, _ := b.Predict(x)
	for i := range pa {
		for j := range pa[i] {
			if pa[i][j] != pb[i][j] {
				t.Fatal("restored network predicts differently")
			}
		}
	}

	t.Run("snapshot is a copy", func(t *testing.T) {
		w := a.Snapshot()
		w["layer_0/bias"][0] = 42
		if a.Snapshot()["layer_0/bias"][0] == 42 {
			t.Error("snapshot aliases network weights")
		}
	})

	t.Run("rejects incomplete weights", func(t *testing.T) {
		w := a.Snapshot()
		delete(w, "layer_1/gamma")
		if err := b.Restore(w); !errors.Is(err, ErrShape) {
			t.Errorf("expected ErrShape, got %v", err)
		}
	})

	t.Run("rejects wrong sizes", func(t *testing.T) {
		w := a.Snapshot()
		w["layer_2/bias"] = []float64{1}
		if err := b.Restore(w); !errors.Is(err, ErrShape) {
			t.Errorf("expected ErrShape, got %v", err)
		}
	})
}

func TestAdamReducesLoss(t *testing.T) {
	n, err := Build(4, 2, []Spec{
		{Kind: KindLSTM, Units: 4},
		{Kind: KindDense, Units: 2, Activation: Softmax},
	}, 21)
	if err != nil {
		t.Fatal(err)
	}

	// Class 0 has positive first feature, class 1 negative.
	x := NewSeq(8, 4, 2)
	y := make([][]float64, 8)
	for b := range x {
		sign := 1.0
		if b%2 == 1 {
			sign = -1
		}
		for ti := range x[b] {
			x[b][ti][0] = sign * 0.8
			x[b][ti][1] = 0.1 * float64(ti)
		}
		y[b] = OneHot(b%2, 2)
	}

	opt := NewAdam(0.05)
	first := lossOf(t, n, x, y)
	for range 100 {
		n.ZeroGrad()
		probs, caches, err := n.Forward(x, true)
		if err != nil {
			t.Fatal(err)
		}
		_, grad := CrossEntropy(probs, y)
		n.Backward(caches, grad)
		opt.Step(n.Params())
	}
	last := lossOf(t, n, x, y)

	if last >= first/4 {
		t.Errorf("loss did not drop enough: %f -> %f", first, last)
	}
	probs, _ := n.Predict(x)
	if acc := Accuracy(probs, y); acc != 1 {
		t.Errorf("accuracy = %f, want 1", acc)
	}
	if opt.Steps() != 100 {
		t.Errorf("steps = %d", opt.Steps())
	}
}

func TestDropout(t *testing.T) {
	d := newDropout(0.5, 1)
	x := NewSeq(4, 10, 25)
	for b := range x {
		for ti := range x[b] {
			for j := range x[b][ti] {
				x[b][ti][j] = 1
			}
		}
	}

	t.Run("identity at inference", func(t *testing.T) {
		out, cache := d.Forward(x, false)
		if cache != nil || out[0][0][0] != 1 {
			t.Error("expected identity at inference")
		}
	})

	t.Run("drops and rescales in training", func(t *testing.T) {
		out, cache := d.Forward(x, true)
		zeros, total := 0, 0
		for b := range out {
			for ti := range out[b] {
				for _, v := range out[b][ti] {
					total++
					switch v {
					case 0:
						zeros++
					case 2:
					default:
						t.Fatalf("unexpected activation %f", v)
					}
				}
			}
		}
		frac := float64(zeros) / float64(total)
		if frac < 0.4 || frac > 0.6 {
			t.Errorf("dropped fraction %f far from 0.5", frac)
		}

		g := d.Backward(cache, x)
		for b := range g {
			for ti := range g[b] {
				for j := range g[b][ti] {
					if g[b][ti][j] != out[b][ti][j] {
						t.Fatal("gradient mask differs from forward mask")
					}
				}
			}
		}
	})
}

func TestLossAndAccuracy(t *testing.T) {
	probs := [][]float64{{0.7, 0.2, 0.1}, {0.1, 0.1, 0.8}}
	targets := [][]float64{OneHot(0, 3), OneHot(1, 3)}

	loss, grad := CrossEntropy(probs, targets)
	want := -(math.Log(0.7) + math.Log(0.1)) / 2
	if math.Abs(loss-want) > 1e-12 {
		t.Errorf("loss = %f, want %f", loss, want)
	}
	if math.Abs(grad[0][0]-(-1/0.7/2)) > 1e-12 || grad[0][1] != 0 {
		t.Errorf("unexpected gradient %v", grad[0])
	}
	if acc := Accuracy(probs, targets); acc != 0.5 {
		t.Errorf("accuracy = %f, want 0.5", acc)
	}

	t.Run("clips zero probability", func(t *testing.T) {
		loss, _ := CrossEntropy([][]float64{{0, 1}}, [][]float64{OneHot(0, 2)})
		if math.IsInf(loss, 0) || math.IsNaN(loss) {
			t.Errorf("loss not finite: %f", loss)
		}
	})
}

func TestParallelCoversEverySpan(t *testing.T) {
	for _, n := range []int{1, 3, 17, 256} {
		parts := spans(n)
		seen := make([]int, n)
		calls := make([]int, len(parts))
		parallel(parts, func(i int, s span) {
			calls[i]++
			for j := s.lo; j < s.hi; j++ {
				seen[j]++
			}
		})
		for i, c := range calls {
			if c != 1 {
				t.Errorf("n=%d: span %d ran %d times", n, i, c)
			}
		}
		for j, c := range seen {
			if c != 1 {
				t.Fatalf("n=%d: index %d visited %d times", n, j, c)
			}
		}
	}
}
