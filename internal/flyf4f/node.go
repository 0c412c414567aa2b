package flyf4f

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tiiuae/rclgo/pkg/rclgo"
)

// NewNode creates the ROS 2 context and the engine node in namespace.
// The caller closes the context.
func NewNode(wg *sync.WaitGroup, name, namespace string) (*rclgo.Context, *rclgo.Node, error) {
	rclArgs, err := rclgo.NewRCLArgs("")
	if err != nil {
		return nil, nil, errors.WithMessage(err, "Unable to parse ROS arguments")
	}
	rclContext, err := rclgo.NewContext(wg, 0, rclArgs)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "Unable to create ROS context")
	}
	node, err := rclContext.NewNode(name, namespace)
	if err != nil {
		rclContext.Close()
		return nil, nil, errors.WithMessagef(err, "Unable to create node %s", name)
	}
	return rclContext, node, nil
}
