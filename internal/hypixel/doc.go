// Package hypixel talks to the Hypixel and Mojang HTTP APIs and knows the
// static game data (modes, ranks, level curves) needed to present stats.
package hypixel
