package main

//go:generate env HOTBUILD_ENV=production COMPRESS=true go run .. bake -o snapshot.msgp
