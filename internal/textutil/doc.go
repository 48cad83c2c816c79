// Package textutil provides path-segment sanitisation for show directories and
// token-based title similarity used to score routing matches and rank TMDB
// candidates for unmatched files.
//
// Tokenisation lowercases text and splits on anything that is not a letter or
// digit, so dotted release names ("Show.Name") and spaced titles ("Show Name")
// produce the same tokens.
package textutil
