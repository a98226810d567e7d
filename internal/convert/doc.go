// Package convert defines the per-record conversion contract and ships the
// WFDB to DICOM 12-lead ECG waveform converter.
//
// A Converter is a pure function of its Request: it reads the source record,
// writes exactly one artifact at Request.OutputPath, and returns that path.
// Implementations write atomically so a failed or killed conversion never
// leaves a partial file behind.
package convert
