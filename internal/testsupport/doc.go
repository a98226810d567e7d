// Package testsupport holds fixtures shared by package tests: configuration
// builders, WFDB record and DICOM waveform writers, and CSV helpers.
package testsupport
