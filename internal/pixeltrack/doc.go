// Package pixeltrack owns the local-track data model of the roman pot
// pixel tracker.
//
// Responsibilities: the straight-line track model (x0, y0, tx, ty) at a
// reference plane z0, its 4x4 parameter covariance, the fitted hits grouped
// by detector element, and fit-quality bookkeeping (chi2, NDF, validity).
// Key types: LocalTrack, FittedRecHit, RecHit.
//
// The fit itself is performed elsewhere; this package only stores the
// result and derives quantities from it. Accessors never report errors:
// degenerate inputs (negative variances, NDF <= 0) propagate as NaN or Inf.
//
// Dependency rule: no storage, plotting or configuration code here.
package pixeltrack
