// internal/rating/glicko2.go
package rating

import "math"

const (
	// GlickoScale converts between the 1500-based display scale and Glicko-2's mu.
	GlickoScale = 173.7178
	// DefaultValue is the rating of a player with no games.
	DefaultValue = 1500.0
	// DefaultDeviation is the rating deviation (RD) of a player with no games.
	DefaultDeviation = 350.0
	// DefaultVolatility is the starting volatility.
	DefaultVolatility = 0.06
	// Tau constrains volatility changes.
	Tau = 0.5
	// Epsilon is the convergence tolerance of the volatility iteration.
	Epsilon = 0.000001
)

// Rating is a player's rating on the display scale.
type Rating struct {
	Value      float64 `json:"value"`
	Deviation  float64 `json:"deviation"`
	Volatility float64 `json:"volatility"`
	Games      int     `json:"games"`
}

// Default is the rating of a newcomer.
func Default() Rating {
	return Rating{Value: DefaultValue, Deviation: DefaultDeviation, Volatility: DefaultVolatility}
}

// glicko2 is a rating in Glicko-2 space.
type glicko2 struct {
	mu    float64
	phi   float64
	sigma float64
}

func toGlicko2(r Rating) glicko2 {
	sigma := r.Volatility
	if sigma <= 0 {
		sigma = DefaultVolatility
	}
	phi := r.Deviation
	if phi <= 0 {
		phi = DefaultDeviation
	}
	return glicko2{
		mu:    (r.Value - DefaultValue) / GlickoScale,
		phi:   phi / GlickoScale,
		sigma: sigma,
	}
}

func (s glicko2) toRating(games int) Rating {
	return Rating{
		Value:      s.mu*GlickoScale + DefaultValue,
		Deviation:  s.phi * GlickoScale,
		Volatility: s.sigma,
		Games:      games,
	}
}

// update performs one Glicko-2 rating period for r against a single opponent
// with the given score in [0, 1].
func update(r, opp glicko2, score float64) glicko2 {
	gVal := g(opp.phi)
	eVal := expected(r.mu, opp.mu, opp.phi)

	v := 1.0 / (gVal * gVal * eVal * (1 - eVal))
	delta := v * gVal * (score - eVal)

	a := math.Log(r.sigma * r.sigma)
	fA := func(x float64) float64 { return f(x, r.phi, v, delta, a) }

	A := a
	var B float64
	if delta*delta > r.phi*r.phi+v {
		B = math.Log(delta*delta - r.phi*r.phi - v)
	} else {
		k := 1.0
		for fA(a-k*Tau) < 0 {
			k++
		}
		B = a - k*Tau
	}

	// Illinois variant of regula falsi
	valA, valB := fA(A), fA(B)
	for i := 0; i < 100 && math.Abs(B-A) > Epsilon; i++ {
		C := A + (A-B)*valA/(valB-valA)
		valC := fA(C)
		if valC*valB <= 0 {
			A, valA = B, valB
		} else {
			valA /= 2
		}
		B, valB = C, valC
	}

	newSigma := math.Exp(A / 2)
	phiStar := math.Sqrt(r.phi*r.phi + newSigma*newSigma)
	phiPrime := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muPrime := r.mu + phiPrime*phiPrime*gVal*(score-eVal)

	return glicko2{mu: muPrime, phi: phiPrime, sigma: newSigma}
}

// g is 1/sqrt(1+3phi^2/pi^2).
func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/(math.Pi*math.Pi))
}

// expected is the expected score of mu against an opponent (mu2, phi2).
func expected(mu, mu2, phi2 float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phi2)*(mu-mu2)))
}

// f is the volatility root-finding function.
func f(x, phi, v, delta, a float64) float64 {
	ex := math.Exp(x)
	num := ex * (delta*delta - phi*phi - v - ex)
	den := 2.0 * (phi*phi + v + ex) * (phi*phi + v + ex)
	return num/den - (x-a)/(Tau*Tau)
}
