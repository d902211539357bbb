// setu-events is the SETU event registration service.
//
// RUNNING THE SERVER:
//
//	go run ./cmd/setu-events --config=config/local.yaml
//
// or (with the environment variable):
//
//	CONFIG_PATH=config/local.yaml go run ./cmd/setu-events serve
package main

func main() {
	Execute()
}
