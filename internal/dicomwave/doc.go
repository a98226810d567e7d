// Package dicomwave builds, writes and reads 12-lead ECG waveform objects on
// top of github.com/suyashkumar/dicom.
//
// Files are written as Explicit VR Little Endian with a generated file meta
// group. Reading rejects input without the Part 10 preamble and reports a
// file cut short inside an element as an error.
package dicomwave
