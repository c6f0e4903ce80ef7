// Package dimension resolves the language and variant combinations a node is
// indexed or removed under.
//
// Combinations are the cartesian product of the configured presets. A preset
// lists a target value followed by its fallbacks, so the combination
// {language: [de_CH, de]} shows Swiss German content and falls back to German.
package dimension
