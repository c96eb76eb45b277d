package ir

// Version is the timeline tool version.
const Version = "0.1.0"
