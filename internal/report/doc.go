// Package report renders fit-quality plots for local tracks: pull
// histograms as PNG via gonum/plot, and x-z and y-z projections of hits and
// fitted lines as an HTML page via go-echarts.
package report
