// Command bhava classifies facial affect from a camera or from still images.
package main

func main() {
	Execute()
}
