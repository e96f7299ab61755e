// Package solver provides challenge solvers for the claim pipeline.
package solver
