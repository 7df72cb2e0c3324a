package glm

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"gomargins/domain/core"
	"gomargins/ports"
)

// Covariance implements ports.Model
func (m *Model) Covariance(spec ports.VcovSpec) (*mat.SymDense, error) {
	switch spec.Kind {
	case "", ports.VcovAnalytic:
		v := mat.NewSymDense(m.bread.SymmetricDim(), nil)
		v.ScaleSym(m.dispersion, m.bread)
		return v, nil
	case ports.VcovRobust:
		return m.sandwich(spec.Type)
	case ports.VcovCluster:
		return m.clustered(spec.Cluster)
	case ports.VcovMatrix:
		if spec.Matrix == nil {
			return nil, core.NewOptionError("vcov", "missing precomputed matrix")
		}
		return spec.Matrix, nil
	}
	return nil, core.NewOptionError("vcov", fmt.Sprintf("%s covariance is not provided by %s models", spec.Kind, m.family))
}

// residuals are the score residuals y - mu of the canonical link
func (m *Model) residuals() []float64 {
	out := make([]float64, len(m.y))
	for i := range out {
		out[i] = m.y[i] - m.mu[i]
	}
	return out
}

// sandwich computes HC0 to HC3 heteroskedasticity-consistent covariance
func (m *Model) sandwich(kind string) (*mat.SymDense, error) {
	n, k := m.x.Dims()
	e := m.residuals()
	kind = strings.ToUpper(kind)
	if kind == "" {
		kind = "HC3"
	}
	u := make([]float64, n)
	for i := range e {
		h := m.leverage(i)
		switch kind {
		case "HC0", "HC1":
			u[i] = e[i] * e[i]
		case "HC2":
			u[i] = e[i] * e[i] / (1 - h)
		case "HC3":
			u[i] = e[i] * e[i] / ((1 - h) * (1 - h))
		default:
			return nil, core.NewOptionError("vcov", fmt.Sprintf("unknown robust estimator %q", kind))
		}
	}
	meat := mat.NewSymDense(k, nil)
	for i := range u {
		meat.SymRankOne(meat, u[i], m.x.RowView(i))
	}
	v := m.sandwichWith(meat)
	if kind == "HC1" {
		v.ScaleSym(float64(n)/float64(n-k), v)
	}
	return v, nil
}

// clustered computes the CR1 cluster-robust covariance
func (m *Model) clustered(column string) (*mat.SymDense, error) {
	c, err := m.data.Column(column)
	if err != nil {
		return nil, err
	}
	n, k := m.x.Dims()
	e := m.residuals()
	sums := make(map[string]*mat.VecDense)
	var order []string
	for i := 0; i < n; i++ {
		id := c.Label(i)
		s, ok := sums[id]
		if !ok {
			s = mat.NewVecDense(k, nil)
			sums[id] = s
			order = append(order, id)
		}
		s.AddScaledVec(s, e[i], m.x.RowView(i))
	}
	g := len(order)
	if g < 2 {
		return nil, core.NewOptionError("vcov", "cluster-robust covariance needs at least two clusters")
	}
	meat := mat.NewSymDense(k, nil)
	for _, id := range order {
		meat.SymRankOne(meat, 1, sums[id])
	}
	v := m.sandwichWith(meat)
	adj := float64(g) / float64(g-1) * float64(n-1) / float64(n-k)
	v.ScaleSym(adj, v)
	return v, nil
}

func (m *Model) sandwichWith(meat mat.Symmetric) *mat.SymDense {
	k := m.bread.SymmetricDim()
	var bm, bmb mat.Dense
	bm.Mul(m.bread, meat)
	bmb.Mul(&bm, m.bread)
	v := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			v.SetSym(i, j, (bmb.At(i, j)+bmb.At(j, i))/2)
		}
	}
	return v
}

// leverage is the diagonal of the weighted hat matrix
func (m *Model) leverage(i int) float64 {
	x := m.x.RowView(i)
	var bx mat.VecDense
	bx.MulVec(m.bread, x)
	return m.w[i] * mat.Dot(x, &bx)
}
